package providers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/reelshelf/reelshelf-server/internal/api"
	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/logger"
	"github.com/reelshelf/reelshelf-server/internal/ratelimit"
	"github.com/reelshelf/reelshelf-server/internal/sse"
)

// RateLimiterHandle wraps the request limiter with shutdown capability.
type RateLimiterHandle struct {
	*ratelimit.KeyedRateLimiter
}

// Shutdown implements do.Shutdownable.
func (h *RateLimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideRateLimiter provides the per-client limiter for mutating endpoints.
func ProvideRateLimiter(i do.Injector) (*RateLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &RateLimiterHandle{
		KeyedRateLimiter: api.NewRateLimiter(cfg.Server.RateLimit, time.Minute, cfg.Server.RateBurst),
	}, nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the HTTP server.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	conversionHandle := do.MustInvoke[*ConversionServiceHandle](i)
	limiterHandle := do.MustInvoke[*RateLimiterHandle](i)

	handler := api.NewServer(
		conversionHandle.ConversionService,
		storeHandle.Store,
		sseHandle.Manager,
		sse.NewHandler(sseHandle.Manager, log.Logger),
		limiterHandle.KeyedRateLimiter,
		cfg.Server,
		log.Logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Event streams never finish on their own; closing subscribers lets Shutdown complete.
	srv.RegisterOnShutdown(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sseHandle.Manager.Shutdown(ctx); err != nil {
			log.Warn("SSE shutdown incomplete", slog.Any("error", err))
		}
	})

	// Start in background
	go func() {
		log.Info("HTTP server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", slog.Any("error", err))
		}
	}()

	log.Info("Server running", slog.String("addr", srv.Addr))

	return &HTTPServerHandle{Server: srv}, nil
}

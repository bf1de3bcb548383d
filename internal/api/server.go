// Package api provides the HTTP API server for the conversion engine.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/http/response"
	"github.com/reelshelf/reelshelf-server/internal/id"
	"github.com/reelshelf/reelshelf-server/internal/ratelimit"
	"github.com/reelshelf/reelshelf-server/internal/service"
	"github.com/reelshelf/reelshelf-server/internal/sse"
)

const (
	apiTitle   = "ReelShelf API"
	apiVersion = "1.0.0"

	headerRequestID = "X-Request-ID"
)

// Pinger reports whether the item store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	router      *chi.Mux
	api         huma.API
	conversions *service.ConversionService
	store       Pinger
	sseManager  *sse.Manager
	sseHandler  http.Handler
	limiter     *ratelimit.KeyedRateLimiter
	logger      *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
// A nil limiter disables rate limiting.
func NewServer(
	conversions *service.ConversionService,
	st Pinger,
	sseManager *sse.Manager,
	sseHandler http.Handler,
	limiter *ratelimit.KeyedRateLimiter,
	cfg config.ServerConfig,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	s := &Server{
		router:      router,
		conversions: conversions,
		store:       st,
		sseManager:  sseManager,
		sseHandler:  sseHandler,
		limiter:     limiter,
		logger:      logger,
	}

	s.setupMiddleware(cfg.CORSOrigins)

	s.api = humachi.New(router, huma.DefaultConfig(apiTitle, apiVersion))
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API returns the huma API, for OpenAPI generation and tests.
func (s *Server) API() huma.API {
	return s.api
}

func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(requestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.limiter != nil {
		s.router.Use(RateLimitMiddleware(s.limiter, s.logger))
	}
}

func (s *Server) setupRoutes() {
	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.NotFound(w, "route not found", s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.MethodNotAllowed(w, s.logger)
	})

	s.registerHealthRoutes()
	s.registerConversionRoutes()

	// Streaming and exposition endpoints bypass huma.
	if s.sseHandler != nil {
		s.router.Get("/api/v1/conversions/events", s.sseHandler.ServeHTTP)
	}
	s.router.Handle("/metrics", promhttp.Handler())
}

// requestID propagates X-Request-ID or assigns a new one.
// The id is stored under chi's key so middleware.GetReqID works downstream.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerRequestID)
		if reqID == "" || len(reqID) > 64 {
			reqID = id.Request()
		}
		w.Header().Set(headerRequestID, reqID)

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			level := slog.LevelDebug
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

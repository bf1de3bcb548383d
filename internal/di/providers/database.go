package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/samber/do/v2"

	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/logger"
	"github.com/reelshelf/reelshelf-server/internal/sse"
	"github.com/reelshelf/reelshelf-server/internal/store/sqlite"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
// Queued events are drained before the broadcast loop's context is cancelled.
func (h *SSEManagerHandle) Shutdown() error {
	defer h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the media item database.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Metadata.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("create metadata directory: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sqlite.Open(dbPath, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", slog.String("path", dbPath))

	return &StoreHandle{Store: db}, nil
}

package watcher

import (
	"context"
	"log/slog"
)

// CacheHandler reacts to files settling in or disappearing from a watched directory.
type CacheHandler interface {
	HandleCacheAddition(ctx context.Context, path string)
	HandleCacheRemoval(ctx context.Context, path string)
}

// Dispatch forwards watcher events to h until ctx is cancelled or the watcher stops.
func Dispatch(ctx context.Context, w *Watcher, h CacheHandler, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event := <-w.Events():
			switch event.Type {
			case EventAdded:
				logger.Debug("cache file added",
					slog.String("path", event.Path),
					slog.Int64("size", event.Size),
				)
				h.HandleCacheAddition(ctx, event.Path)
			case EventRemoved:
				logger.Debug("cache file removed", slog.String("path", event.Path))
				h.HandleCacheRemoval(ctx, event.Path)
			}
		case err := <-w.Errors():
			logger.Warn("cache watcher error", slog.Any("error", err))
		}
	}
}

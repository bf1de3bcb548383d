package providers

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/ffmpeg"
	"github.com/reelshelf/reelshelf-server/internal/logger"
	"github.com/reelshelf/reelshelf-server/internal/service"
	"github.com/reelshelf/reelshelf-server/internal/watcher"
)

// EncoderHandle holds the ffmpeg encoder, or nil when conversion cannot run.
type EncoderHandle struct {
	Encoder *ffmpeg.Encoder
}

// ProvideEncoder provides the ffmpeg encoder.
// A missing ffmpeg binary is not fatal: the server starts with conversion disabled.
func ProvideEncoder(i do.Injector) (*EncoderHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Convert.Enabled {
		log.Info("Conversion disabled by configuration")
		return &EncoderHandle{}, nil
	}

	enc, err := ffmpeg.New(ffmpeg.Options{
		Path:          cfg.Convert.FFmpegPath,
		AudioCodec:    cfg.Convert.AudioCodec,
		AudioBitrate:  cfg.Convert.AudioBitrate,
		AudioChannels: cfg.Convert.AudioChannels,
		Format:        cfg.Convert.OutputExt,
	}, log.Logger)
	if err != nil {
		log.Warn("ffmpeg unavailable, conversion disabled", slog.Any("error", err))
		return &EncoderHandle{}, nil
	}

	return &EncoderHandle{Encoder: enc}, nil
}

// ConversionServiceHandle wraps the conversion service with shutdown capability.
type ConversionServiceHandle struct {
	*service.ConversionService
}

// Shutdown implements do.Shutdownable.
func (h *ConversionServiceHandle) Shutdown() error {
	h.ConversionService.Stop()
	return nil
}

// ProvideConversionService provides the background conversion engine.
func ProvideConversionService(i do.Injector) (*ConversionServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	encoderHandle := do.MustInvoke[*EncoderHandle](i)

	// A typed nil *ffmpeg.Encoder must not reach the interface.
	var encoder service.Encoder
	if encoderHandle.Encoder != nil {
		encoder = encoderHandle.Encoder
	}

	svc, err := service.NewConversionService(storeHandle.Store, encoder, sseHandle.Manager, cfg.Convert, log.Logger)
	if err != nil {
		return nil, err
	}

	// Sweeps stale temp files and starts cache maintenance.
	svc.Start()

	log.Info("Conversion service started",
		slog.Bool("enabled", svc.IsEnabled()),
		slog.Int("max_concurrent", cfg.Convert.MaxConcurrent),
	)

	return &ConversionServiceHandle{ConversionService: svc}, nil
}

// CacheWatcherHandle wraps the conversion cache watcher with shutdown capability.
// Watcher is nil when watching is disabled.
type CacheWatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *CacheWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	return h.Watcher.Stop()
}

// ProvideCacheWatcher watches the conversion cache so outputs deleted outside the
// server are cleared from the database and outputs restored by hand are adopted.
func ProvideCacheWatcher(i do.Injector) (*CacheWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	conversionHandle := do.MustInvoke[*ConversionServiceHandle](i)

	if !cfg.Convert.WatchCache {
		return &CacheWatcherHandle{}, nil
	}

	w, err := watcher.New(log.Logger, watcher.Options{IgnoreHidden: true})
	if err != nil {
		return nil, err
	}
	if err := w.Watch(cfg.Convert.CachePath); err != nil {
		//nolint:errcheck // Already failing
		_ = w.Stop()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("Cache watcher error", slog.Any("error", err))
		}
	}()

	go watcher.Dispatch(ctx, w, conversionHandle.ConversionService, log.Logger)

	log.Info("Cache watcher started", slog.String("path", cfg.Convert.CachePath))

	return &CacheWatcherHandle{
		Watcher: w,
		cancel:  cancel,
	}, nil
}

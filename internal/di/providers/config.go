// Package providers contains dependency injection providers for the ReelShelf server.
package providers

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/logger"
)

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.LoadConfig()
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting ReelShelf Server",
		slog.String("environment", cfg.App.Environment),
		slog.String("log_level", cfg.Logger.Level),
		slog.String("metadata_path", cfg.Metadata.BasePath),
		slog.String("conversion_cache", cfg.Convert.CachePath),
	)

	return log, nil
}

// Package di provides dependency injection configuration for the ReelShelf server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/reelshelf/reelshelf-server/internal/config"
	"github.com/reelshelf/reelshelf-server/internal/di/providers"
	"github.com/reelshelf/reelshelf-server/internal/logger"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Events and storage
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)

	// Conversion
	do.Provide(injector, providers.ProvideEncoder)
	do.Provide(injector, providers.ProvideConversionService)
	do.Provide(injector, providers.ProvideCacheWatcher)

	// Server
	do.Provide(injector, providers.ProvideRateLimiter)
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)

	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.ConversionServiceHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.CacheWatcherHandle](injector); err != nil {
		return err
	}

	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}

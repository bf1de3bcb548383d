// Package main provides the entry point for the ReelShelf server application.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/reelshelf/reelshelf-server/internal/di"
	"github.com/reelshelf/reelshelf-server/internal/logger"
)

func main() {
	// Create DI container
	injector := di.NewContainer()

	// Bootstrap all services
	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap server: %v\n", err)
		//nolint:errcheck // Exiting anyway
		_ = injector.Shutdown()
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server gracefully...")

	// The container shuts down in reverse dependency order: HTTP server,
	// cache watcher, conversion service, then events and the database.
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	log.Info("See you space cowboy...")
}

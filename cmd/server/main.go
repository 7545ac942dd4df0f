package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lyallcooper/scanstream/internal/app"
)

// Set at build time with -ldflags
var (
	version = "dev"
	commit  = ""
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	server, err := app.CreateServer(context.Background(), app.ServerConfig{
		Version: version,
		Commit:  commit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	log := server.Log

	cleanupCancel, cleanupDone := server.StartCleanupLoop()

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		cleanupCancel()
		<-cleanupDone

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error(err, "shutdown error")
		}
	}()

	log.Info("server listening", "addr", server.HTTP.Addr)
	if err := server.HTTP.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Error(err, "server error")
		cleanupCancel()
		server.Cleanup()
		os.Exit(1)
	}

	<-shutdownDone
	log.Info("server stopped")
}

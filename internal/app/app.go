// Package app wires the scanstream server together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/lyallcooper/scanstream/internal/config"
	"github.com/lyallcooper/scanstream/internal/db"
	"github.com/lyallcooper/scanstream/internal/engine"
	"github.com/lyallcooper/scanstream/internal/handlers"
	"github.com/lyallcooper/scanstream/internal/logging"
	"github.com/lyallcooper/scanstream/internal/reports"
	"github.com/lyallcooper/scanstream/internal/scheduler"
	"github.com/lyallcooper/scanstream/internal/services"
	"github.com/lyallcooper/scanstream/internal/telemetry"
	"github.com/lyallcooper/scanstream/internal/webhook"
)

// ServerConfig contains options for creating the application server.
type ServerConfig struct {
	// Port to listen on. If 0, uses config default.
	Port int

	// Version string for display.
	Version string

	// Commit hash for display.
	Commit string
}

// Server wraps the HTTP server and associated resources.
type Server struct {
	HTTP       *http.Server
	Config     *config.Config
	Database   *db.DB
	Scanner    *services.Scanner
	Scheduler  *scheduler.Scheduler
	Dispatcher *webhook.Dispatcher
	Log        logr.Logger

	shutdownTelemetry telemetry.ShutdownFunc
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Shutdown when done to release resources.
func CreateServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	appCfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Port > 0 {
		appCfg.Port = cfg.Port
	}

	log, err := logging.New(logging.Options{Level: appCfg.LogLevel, Format: appCfg.LogFormat})
	if err != nil {
		return nil, err
	}

	versionStr := buildVersionString(cfg.Version, cfg.Commit)
	log.Info("scanstream starting",
		"version", versionStr,
		"database", appCfg.DBPath,
		"port", appCfg.Port,
		"retentionDays", appCfg.RetentionDays,
	)

	s := &Server{Config: appCfg, Log: log}
	if err := s.init(ctx, versionStr); err != nil {
		s.Cleanup()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context, version string) error {
	cfg := s.Config

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.Database = database

	tracer, shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceVersion: version,
		Endpoint:       cfg.OTelEndpoint,
		Insecure:       cfg.OTelInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	s.shutdownTelemetry = shutdownTelemetry

	engineOpts := []engine.HTMLEngineOption{engine.WithUserAgent(cfg.UserAgent)}
	if cfg.CustomRulesPath != "" {
		rules, err := engine.LoadCustomRules(cfg.CustomRulesPath)
		if err != nil {
			return err
		}
		s.Log.Info("loaded custom rules", "path", cfg.CustomRulesPath, "count", len(rules))
		engineOpts = append(engineOpts, engine.WithCustomRules(rules))
	}
	eng := engine.NewHTMLEngine(engineOpts...)

	s.Dispatcher = webhook.NewDispatcher(database, webhook.Options{
		Timeout:     cfg.WebhookTimeout,
		MaxAttempts: cfg.WebhookMaxAttempts,
		Concurrency: cfg.WebhookConcurrency,
	}, s.Log.WithName("webhook"))

	scannerOpts := []services.Option{
		services.WithStore(database),
		services.WithLogger(s.Log.WithName("scanner")),
		services.WithTracer(tracer),
		services.WithScanTimeout(cfg.ScanTimeout),
	}
	if cfg.S3Endpoint != "" {
		archive, err := newArchive(ctx, cfg)
		if err != nil {
			return err
		}
		s.Log.Info("archiving reports", "endpoint", cfg.S3Endpoint, "bucket", cfg.ReportsBucket)
		scannerOpts = append(scannerOpts, services.WithArchiver(archive))
	}
	s.Scanner = services.NewScanner(eng, s.Dispatcher, scannerOpts...)

	s.Scheduler = scheduler.New(database, s.Scanner, s.Log.WithName("scheduler"))
	s.Scheduler.Start()

	h := handlers.New(database, s.Scanner, s.Log.WithName("http"), version)
	s.HTTP = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

func newArchive(ctx context.Context, cfg *config.Config) (*reports.Archive, error) {
	client, err := reports.NewS3Client(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.EnsureBucket(ctx, cfg.ReportsBucket); err != nil {
		return nil, err
	}
	return reports.New(client, cfg.ReportsBucket), nil
}

// Shutdown stops accepting requests, cancels running scans, then releases
// every resource. Webhook deliveries in flight get until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.HTTP != nil {
		// Streams stay open until their scan ends, so cancel scans first
		s.Scanner.CancelAll()
		if err := s.HTTP.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.Scheduler != nil {
		s.Scheduler.Stop()
		s.Scheduler = nil
	}
	if s.Dispatcher != nil {
		if err := s.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook shutdown: %w", err))
		}
		s.Dispatcher = nil
	}
	if s.shutdownTelemetry != nil {
		if err := s.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
		s.shutdownTelemetry = nil
	}
	s.Cleanup()
	return errors.Join(errs...)
}

// Cleanup releases resources without waiting on anything in flight.
func (s *Server) Cleanup() {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
		s.Scheduler = nil
	}
	if s.shutdownTelemetry != nil {
		s.shutdownTelemetry(context.Background())
		s.shutdownTelemetry = nil
	}
	if s.Database != nil {
		s.Database.Close()
		s.Database = nil
	}
}

// StartCleanupLoop starts a background goroutine that periodically removes
// scan history older than the retention period.
// Returns a cancel function and a done channel.
func (s *Server) StartCleanupLoop() (cancel func(), done <-chan struct{}) {
	return s.startCleanupLoop(24 * time.Hour)
}

func (s *Server) startCleanupLoop(interval time.Duration) (cancel func(), done <-chan struct{}) {
	cleanupDone := make(chan struct{})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	database := s.Database
	log := s.Log.WithName("cleanup")

	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				removed, err := database.CleanupOldData(s.Config.RetentionDays)
				if err != nil {
					log.Error(err, "cleanup failed")
					continue
				}
				log.V(1).Info("cleanup finished", "retentionDays", s.Config.RetentionDays, "removed", removed)
			}
		}
	}()

	return cleanupCancel, cleanupDone
}

func buildVersionString(version, commit string) string {
	if version == "" {
		version = "dev"
	}
	if strings.HasPrefix(version, "v") {
		return version
	}
	shortCommit := commit
	if len(shortCommit) > 7 {
		shortCommit = shortCommit[:7]
	}
	if shortCommit == "" {
		shortCommit = "unknown"
	}
	return version + "-" + shortCommit
}

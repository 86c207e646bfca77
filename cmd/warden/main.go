package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/cache"
	"github.com/wardenlabs/llm-warden/internal/classifier"
	"github.com/wardenlabs/llm-warden/internal/config"
	"github.com/wardenlabs/llm-warden/internal/logger"
	"github.com/wardenlabs/llm-warden/internal/rules"
	"github.com/wardenlabs/llm-warden/internal/scan"
	"github.com/wardenlabs/llm-warden/internal/server"
	"github.com/wardenlabs/llm-warden/internal/store"
	"github.com/wardenlabs/llm-warden/internal/tenant"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("LLM-Warden %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting LLM-Warden",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	// Policy store: Postgres when configured, in-process otherwise.
	var (
		entityStore      tenant.Store
		policyStore      scan.PolicyStore
		suppressionStore scan.SuppressionStore
	)
	if cfg.Store.Enabled {
		pg, err := store.NewPostgres(&cfg.Store, log.WithComponent("store").Logger)
		if err != nil {
			log.Fatal("Failed to initialize policy store", zap.Error(err))
		}
		defer pg.Close()
		entityStore, policyStore, suppressionStore = pg, pg, pg
	} else {
		mem := store.NewMemory()
		entityStore, policyStore, suppressionStore = mem, mem, mem
		log.Info("Using in-memory policy store")
	}

	// Classifier backend
	clf, err := classifier.New(cfg.Classifier, log.WithComponent("classifier").Logger)
	if err != nil {
		log.Fatal("Failed to initialize classifier", zap.Error(err))
	}
	defer clf.Close()

	// Scan engine with the shipped rule pack
	resolver := tenant.NewResolver(entityStore, log.WithComponent("tenant").Logger)
	engine, err := scan.NewEngine(
		cfg.Engine,
		rules.DefaultRules(),
		clf,
		resolver,
		policyStore,
		suppressionStore,
		log.WithComponent("scan").Logger,
	)
	if err != nil {
		log.Fatal("Failed to create scan engine", zap.Error(err))
	}

	// Optional verdict cache
	var verdicts *cache.VerdictCache
	if cfg.Cache.Enabled {
		verdicts, err = cache.NewVerdictCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to initialize verdict cache", zap.Error(err))
		}
		defer verdicts.Close()
	}

	// Create scan server
	srv, err := server.New(cfg, engine, verdicts, log)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}

// Package main provides the aggregator server entry point. The server
// ingests diagnostic archives, persists analysis results, and serves rule
// content and cluster reports.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/insights-onprem/insights-aggregator/pkg/content"
	"github.com/insights-onprem/insights-aggregator/pkg/processor"
	"github.com/insights-onprem/insights-aggregator/pkg/server"
	"github.com/insights-onprem/insights-aggregator/pkg/storage"
)

var version = "dev"

func main() {
	var (
		listenAddr   string
		databaseType string
		databaseDSN  string
		contentPath  string
		configPath   string
		enginePath   string
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "postgres", "Database type (postgres or sqlite)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.StringVar(&contentPath, "content", "/content", "Path to the rule content tree")
	flag.StringVar(&configPath, "config", "", "Path to the processing config file")
	flag.StringVar(&enginePath, "engine", "", "Path to the rule engine binary")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("starting aggregator server",
		"listen", listenAddr,
		"content", contentPath,
		"version", version,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	procCfg, err := processor.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("Failed to load processing config: %v", err)
	}

	gormDB, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}
	store := storage.NewStore(gormDB)
	if err := store.AutoMigrate(); err != nil {
		glog.Fatalf("Failed to migrate database schema: %v", err)
	}

	index, err := content.Load(contentPath, logger)
	if err != nil {
		glog.Fatalf("Failed to load rule content: %v", err)
	}
	logger.Info("loaded rule content", "entries", index.Len())

	metrics := server.NewMetrics(prometheus.DefaultRegisterer)
	metrics.SetContentEntries(index.Len())

	if enginePath == "" {
		enginePath = os.Getenv("INSIGHTS_ENGINE_PATH")
	}
	engine := &processor.CommandEngine{
		Path:                enginePath,
		EngineVersion:       envOrDefault("INSIGHTS_ENGINE_VERSION", "unknown"),
		AvailableComponents: splitComponents(os.Getenv("INSIGHTS_ENGINE_COMPONENTS")),
	}

	pipeline := processor.NewPipeline(procCfg, nil, engine, nil, store, logger)

	srvCfg := server.DefaultConfig()
	srvCfg.Version = version
	router := server.NewRouter(srvCfg, pipeline, store, index, metrics, logger)

	logger.Info("aggregator server ready", "listen", listenAddr)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: router,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("aggregator server stopped")
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
	}

	if dbType == "" {
		dbType = os.Getenv("DATABASE_TYPE")
		if dbType == "" {
			dbType = "postgres"
		}
	}

	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected postgres or sqlite)", dbType)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return gormDB, nil
}

func splitComponents(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package main

import (
	"context"
	"log"
	"os"

	"github.com/trawler-io/trawler/internal/api"
	"github.com/trawler-io/trawler/internal/config"
	"github.com/trawler-io/trawler/internal/engine"
	"github.com/trawler-io/trawler/internal/hub"
	"github.com/trawler-io/trawler/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("trawler: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"output_dir", cfg.OutputDir,
	)

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	rooms := hub.New(logger)
	registry := engine.NewRegistry(cfg.OutputDir, cfg.DefaultMaxJobs)
	broadcaster := engine.NewBroadcaster(registry, rooms, logger, cfg.HistoryLimit, cfg.DedupWindow)
	eng := engine.New(cfg, registry, broadcaster, db, logger)
	api.RegisterJobsGauge(registry.ActiveTotal)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	reaper := engine.NewReaper(registry, broadcaster, logger, cfg.ReapInterval, cfg.RetentionWindow)
	go reaper.Run(reaperCtx)

	srv := api.NewServer(cfg.ListenAddr, eng, rooms, db, cfg.InitDeadline, logger)

	err = srv.Run()

	stopReaper()
	eng.Shutdown()

	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// statbotd is the statistics recorder daemon.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	defaults "github.com/xtxerr/statbot/config"
	"github.com/xtxerr/statbot/internal/archive"
	"github.com/xtxerr/statbot/internal/checkpoint"
	"github.com/xtxerr/statbot/internal/config"
	"github.com/xtxerr/statbot/internal/directory"
	"github.com/xtxerr/statbot/internal/handler"
	"github.com/xtxerr/statbot/internal/logging"
	"github.com/xtxerr/statbot/internal/recorder"
	"github.com/xtxerr/statbot/internal/report"
	"github.com/xtxerr/statbot/internal/server"
	"github.com/xtxerr/statbot/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	token := flag.String("token", "", "auth token (or STATBOT_TOKEN env)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Printf("statbotd %s starting...", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No config file found, using defaults")
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	// Token from flag or env
	authToken := *token
	if authToken == "" {
		authToken = os.Getenv("STATBOT_TOKEN")
	}
	if authToken != "" && len(cfg.Auth.Tokens) == 0 {
		cfg.Auth.Tokens = []config.TokenConfig{{ID: "cli", Token: authToken}}
	}
	if len(cfg.Auth.Tokens) == 0 {
		log.Fatal("At least one auth token required (use -token or config)")
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)

	// =========================================================================
	// Log Store
	// =========================================================================

	st, err := store.New(store.Options{
		DataDir:        cfg.DataDir,
		UsersTemplate:  cfg.Statistic.UsersLog,
		StatsTemplate:  cfg.Statistic.StatsLog,
		SpeedsTemplate: cfg.Statistic.SpeedsLog,
	})
	if err != nil {
		log.Fatalf("Create store: %v", err)
	}

	// =========================================================================
	// Recorder, Checkpoint, Query Surface
	// =========================================================================

	rec := recorder.New(st, recorder.Options{
		IdleInterval: cfg.Recorder.IdleInterval,
		Staleness:    cfg.Recorder.Staleness,
	})
	if err := rec.Start(); err != nil {
		log.Fatalf("Start recorder: %v", err)
	}

	cp := checkpoint.New(cfg.Checkpoint.Window, cfg.Checkpoint.MaxEntries,
		defaults.DefaultCheckpointCleanupInterval)

	dir := directory.New(directory.NullResolver{}, cfg.Directory.CacheTTL)
	engine := report.NewEngine(st, report.PercentileOptions{
		Enabled:  cfg.Features.Percentile.Enabled,
		Accuracy: cfg.Features.Percentile.Accuracy,
		Quantile: cfg.Features.Percentile.Quantile,
	})
	h := handler.New(engine, dir, cfg.Supervisors)

	// =========================================================================
	// Archiver (optional)
	// =========================================================================

	var arch *archive.Archiver
	if cfg.Archive.Enabled {
		arch, err = archive.New(archive.Options{
			DataDir:   cfg.DataDir,
			AfterDays: cfg.Archive.AfterDays,
			Interval:  cfg.Archive.Interval,
			Region:    cfg.Archive.S3.Region,
			Bucket:    cfg.Archive.S3.Bucket,
			Prefix:    cfg.Archive.S3.Prefix,
		})
		if err != nil {
			log.Fatalf("Create archiver: %v", err)
		}
		if err := arch.Start(); err != nil {
			log.Fatalf("Start archiver: %v", err)
		}
		log.Printf("Archiver enabled (after_days=%d)", cfg.Archive.AfterDays)
	}

	// =========================================================================
	// Server
	// =========================================================================

	srv := server.New(&server.Config{
		Listen:      cfg.Listen,
		App:         cfg.App,
		Tokens:      cfg.Auth.Tokens,
		AuthTimeout: time.Duration(cfg.Auth.TimeoutSec) * time.Second,
		RateLimit:   cfg.Auth.RateLimitPerMinute,
		RateWindow:  time.Minute,
		Recorder:    rec,
		Checkpoint:  cp,
		Handler:     h,
	})

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Shutting down...")

		// Stop accepting new work first.
		srv.Shutdown()

		if arch != nil {
			arch.Stop()
		}

		// Stop the recorder last so queued events get their chance.
		if err := rec.Stop(); err != nil {
			log.Printf("Warning: recorder stop: %v", err)
		}
		cp.Close()
	}()

	// =========================================================================
	// Run
	// =========================================================================

	log.Printf("Listening on %s (app=%s, data_dir=%s)", cfg.Listen, cfg.App, cfg.DataDir)

	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	stats := rec.Stats()
	log.Printf("statbotd stopped (received=%d merged=%d stale=%d unknown=%d errors=%d pending=%d)",
		stats.Received, stats.Merged, stats.DroppedStale, stats.DroppedUnknown, stats.Errors, stats.Pending)
}

// Command xcimport loads one CSV batch without going through the HTTP API.
//
//	xcimport -prefix fall2025 [-dir ./data/import] [-dry-run]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/xc-results/internal/importer"
	"github.com/stitts-dev/xc-results/internal/services"
	"github.com/stitts-dev/xc-results/pkg/config"
	"github.com/stitts-dev/xc-results/pkg/database"
	"github.com/stitts-dev/xc-results/pkg/logger"
)

func main() {
	prefix := flag.String("prefix", "", "file prefix shared by the seven CSV files")
	dir := flag.String("dir", "", "directory holding the CSV files (defaults to IMPORT_DIR)")
	dryRun := flag.Bool("dry-run", false, "read and validate the files without writing")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())

	if err := importer.ValidatePrefix(*prefix); err != nil {
		log.Fatalf("Usage: xcimport -prefix <name> [-dir <path>] [-dry-run]: %v", err)
	}
	if *dir == "" {
		*dir = cfg.ImportDir
	}

	if *dryRun {
		bundle, err := importer.ReadBundle(*dir, *prefix)
		if err != nil {
			log.Fatalf("Failed to read import files: %v", err)
		}
		log.WithFields(logrus.Fields{
			"venues":   len(bundle.Venues),
			"courses":  len(bundle.Courses),
			"schools":  len(bundle.Schools),
			"meets":    len(bundle.Meets),
			"races":    len(bundle.Races),
			"athletes": len(bundle.Athletes),
			"results":  len(bundle.Results),
			"rejected": len(bundle.Rejected),
		}).Info("Dry run complete")
		for _, rej := range bundle.Rejected {
			log.WithFields(logrus.Fields{"entity": rej.Entity, "line": rej.Line}).Warn(rej.Reason)
		}
		return
	}

	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Caches are cleared so a running server stops serving pre-import pages.
	redisClient, err := services.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Warnf("Redis unavailable, cached pages will expire on their own: %v", err)
	}
	cache := services.NewCacheService(redisClient)
	defer cache.Close()

	imports := services.NewImportService(importer.New(db.DB, cfg.ImportBatchSize), *dir, cache)
	summary, err := imports.ImportPrefix(ctx, *prefix)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Fatalf("Failed to write summary: %v", err)
	}
}

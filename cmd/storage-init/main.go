package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/dinakaran-p/vccrm/config"
	"github.com/dinakaran-p/vccrm/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if cfg.StorageConnStr != "" {
		tables := []string{cfg.AuditTable}
		if cfg.StorageDriver == config.DriverTables {
			tables = append(tables, cfg.TasksTable)
		}
		if err := storage.Provision(ctx, cfg.StorageConnStr, tables, []string{cfg.ActivityQueue}); err != nil {
			log.Fatalf("provision azure storage: %v", err)
		}
		log.WithFields(log.Fields{"tables": tables, "queue": cfg.ActivityQueue}).Info("azure storage ready")
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pool.Close()
		if err := storage.NewPgStore(pool).EnsureTable(ctx); err != nil {
			log.Fatalf("create postgres schema: %v", err)
		}
		log.Info("postgres schema ready")
	}

	log.Info("storage init complete")
}

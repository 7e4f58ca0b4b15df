package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/dinakaran-p/vccrm/activity"
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
	if cfg.StorageConnStr == "" || cfg.ActivityQueue == "" || cfg.AuditTable == "" {
		log.Fatal("missing storage config")
	}
	logger := log.StandardLogger()
	logger.Info("audit worker starting")

	queue, err := storage.NewActivityQueue(cfg.StorageConnStr, cfg.ActivityQueue)
	if err != nil {
		log.Fatalf("queue client: %v", err)
	}
	audit, err := storage.NewAuditLog(cfg.StorageConnStr, cfg.AuditTable)
	if err != nil {
		log.Fatalf("audit table: %v", err)
	}

	var broadcast activity.Publisher
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if redisOpts != nil {
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		broadcast = activity.NewRedisPublisher(rc, cfg.ActivityChannel)
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set, live updates disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	activity.NewProcessor(queue, audit, broadcast, logger, cfg.WorkerIdle).Run(ctx)
	logger.Info("audit worker stopped")
}

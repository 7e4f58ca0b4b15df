package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dinakaran-p/vccrm/activity"
	"github.com/dinakaran-p/vccrm/api"
	"github.com/dinakaran-p/vccrm/config"
	"github.com/dinakaran-p/vccrm/domain"
	"github.com/dinakaran-p/vccrm/importer"
	"github.com/dinakaran-p/vccrm/storage"
)

type auditLog interface {
	api.ActivityLister
	Append(ctx context.Context, a domain.Activity) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err := cfg.ValidateAuth(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	var rc *redis.Client
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	if redisOpts != nil {
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
	}

	store, closeStore, err := openTaskStore(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()
	var tasks domain.TaskStore = store
	if rc != nil && cfg.TasksCacheTTL > 0 {
		tasks = storage.NewCache(store, rc, cfg.TasksCacheTTL)
	}

	audit, err := openAuditLog(cfg)
	if err != nil {
		log.Fatalf("audit log: %v", err)
	}
	if audit == nil {
		logger.Warn("activity queue configured without AUDIT_TABLE, activity trail endpoint disabled")
	}

	broker := api.NewBroker(logger)
	publishers := []activity.Publisher{activity.NewLogPublisher(logger)}
	if queued(cfg) {
		// The audit worker persists and broadcasts queued activities.
		queue, err := storage.NewActivityQueue(cfg.StorageConnStr, cfg.ActivityQueue)
		if err != nil {
			log.Fatalf("activity queue: %v", err)
		}
		publishers = append(publishers, queue)
	} else {
		publishers = append(publishers, activity.PublisherFunc(audit.Append))
		if rc != nil {
			publishers = append(publishers, activity.NewRedisPublisher(rc, cfg.ActivityChannel))
		} else {
			publishers = append(publishers, broker)
		}
	}
	if rc != nil {
		go broker.Subscribe(ctx, rc, cfg.ActivityChannel)
	}

	dispatcher := activity.NewDispatcher(activity.Config{
		Workers:        cfg.ActivityWorkers,
		Buffer:         cfg.ActivityBuffer,
		Timeout:        cfg.ActivityTimeout,
		HandoffTimeout: cfg.ActivityHandoff,
	}, logger, publishers...)
	defer dispatcher.Close()

	engine := domain.NewEngine(tasks, domain.SystemClock{}, dispatcher, logger)

	auth, closeAuth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	defer closeAuth()

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderContentEncoding, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.RequestLogger(logger), api.ObserveRequests(logger), api.GzipRequests())

	api.Register(e, api.Options{
		Tasks:    engine,
		Auth:     auth,
		Deduper:  deduper,
		Audit:    audit,
		Importer: importer.New(engine, cfg.ImportLocation, logger),
		Broker:   broker,
		Location: cfg.ImportLocation,
		Logger:   logger,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
			stop()
		}
	}()
	logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "storage": cfg.StorageDriver}).Info("compliance api started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
}

func queued(cfg config.Config) bool {
	return cfg.ActivityQueue != "" && cfg.StorageConnStr != ""
}

// openAuditLog picks where activity trails are read from. Queued activities
// only reach the audit table through the worker, so without a table there is
// no trail this process can serve and the result is nil.
func openAuditLog(cfg config.Config) (auditLog, error) {
	switch {
	case cfg.AuditTable != "" && cfg.StorageConnStr != "":
		l, err := storage.NewAuditLog(cfg.StorageConnStr, cfg.AuditTable)
		if err != nil {
			return nil, err
		}
		return l, nil
	case queued(cfg):
		return nil, nil
	default:
		return storage.NewMemoryAuditLog(), nil
	}
}

func openTaskStore(ctx context.Context, cfg config.Config) (domain.TaskStore, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverTables:
		s, err := storage.NewTableStore(cfg.StorageConnStr, cfg.TasksTable)
		return s, func() {}, err
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := storage.NewPgStore(pool)
		if err := s.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	default:
		log.Warn("using in-memory task store, data is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}
}

func newAuth(cfg config.Config) (*api.Auth, func(), error) {
	authCfg := api.AuthConfig{
		Audience:    cfg.Auth0Audience,
		Issuer:      cfg.Issuer(),
		TestMode:    cfg.AuthTestMode,
		TestSecret:  []byte(cfg.TestJWTSecret),
		RoleClaim:   cfg.RoleClaim,
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.AuthTestMode {
		log.Warn("auth test mode enabled, accepting HS256 tokens")
		auth, err := api.NewAuth(nil, authCfg)
		return auth, func() {}, err
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, nil, err
	}
	auth, err := api.NewAuth(jwks, authCfg)
	return auth, jwks.EndBackground, err
}

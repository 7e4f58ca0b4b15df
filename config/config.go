// Package config reads service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverTables   = "tables"
	DriverPostgres = "postgres"
)

// Config holds every setting the binaries need.
type Config struct {
	Debug      bool
	ListenAddr string

	StorageDriver   string
	StorageConnStr  string
	TasksTable      string
	AuditTable      string
	ActivityQueue   string
	DatabaseURL     string
	RedisConnStr    string
	TasksCacheTTL   time.Duration
	DeduperTTL      time.Duration
	ActivityChannel string
	ActivityWorkers int
	ActivityBuffer  int
	ActivityTimeout time.Duration
	ActivityHandoff time.Duration
	WorkerIdle      time.Duration
	Auth0Domain     string
	Auth0Audience   string
	AuthTestMode    bool
	TestJWTSecret   string
	RoleClaim       string
	JWKSCacheTTL    time.Duration
	ImportLocation  *time.Location
}

// Load reads the environment. Missing settings take defaults; malformed ones
// are errors.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}
	cfg := Config{
		Debug:           p.boolean("DEBUG", false),
		ListenAddr:      ":" + p.str("FUNCTIONS_CUSTOMHANDLER_PORT", p.str("HTTP_PORT", "8080")),
		StorageDriver:   strings.ToLower(p.str("STORAGE_DRIVER", DriverMemory)),
		StorageConnStr:  p.str("STORAGE_CONNECTION_STRING", ""),
		TasksTable:      p.str("TASKS_TABLE", "ComplianceTasks"),
		AuditTable:      p.str("AUDIT_TABLE", ""),
		ActivityQueue:   p.str("ACTIVITY_QUEUE", ""),
		DatabaseURL:     p.str("DATABASE_URL", ""),
		RedisConnStr:    p.str("REDIS_CONNECTION_STRING", ""),
		TasksCacheTTL:   p.duration("TASKS_CACHE_TTL", 30*time.Second),
		DeduperTTL:      p.duration("DEDUPER_TTL", 24*time.Hour),
		ActivityChannel: p.str("ACTIVITY_CHANNEL", "compliance-activity"),
		ActivityWorkers: p.integer("ACTIVITY_WORKERS", 8),
		ActivityBuffer:  p.integer("ACTIVITY_BUFFER", 1024),
		ActivityTimeout: p.duration("ACTIVITY_TIMEOUT", 30*time.Second),
		ActivityHandoff: p.duration("ACTIVITY_HANDOFF_TIMEOUT", 15*time.Millisecond),
		WorkerIdle:      p.duration("AUDIT_WORKER_IDLE", time.Second),
		Auth0Domain:     p.str("AUTH0_DOMAIN", ""),
		Auth0Audience:   p.str("AUTH0_AUDIENCE", ""),
		AuthTestMode:    p.boolean("AUTH0_TEST_MODE", false),
		TestJWTSecret:   p.str("TEST_JWT_SECRET", ""),
		RoleClaim:       p.str("ROLE_CLAIM", "role"),
		JWKSCacheTTL:    p.duration("JWKS_CACHE_TTL", 10*time.Minute),
	}
	if loc, err := time.LoadLocation(p.str("IMPORT_TIMEZONE", "UTC")); err != nil {
		p.fail("IMPORT_TIMEZONE", err)
	} else {
		cfg.ImportLocation = loc
	}
	if err := p.err(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverTables:
		if c.StorageConnStr == "" {
			return errors.New("STORAGE_CONNECTION_STRING is required for the tables driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.ActivityWorkers <= 0 {
		return errors.New("ACTIVITY_WORKERS must be positive")
	}
	if c.ActivityBuffer < 0 {
		return errors.New("ACTIVITY_BUFFER must not be negative")
	}
	return nil
}

// ValidateAuth checks the token settings the API server needs.
func (c Config) ValidateAuth() error {
	if c.AuthTestMode {
		if c.TestJWTSecret == "" {
			return errors.New("TEST_JWT_SECRET is required in auth test mode")
		}
	} else if c.Auth0Domain == "" || c.Auth0Audience == "" {
		return errors.New("missing Auth0 config")
	}
	return nil
}

// JWKSURL is the key set of the configured Auth0 tenant.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// Issuer is the expected token issuer.
func (c Config) Issuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// Azure Cache form "host:port,password=...,ssl=True" are accepted. It returns
// nil when Redis is not configured.
func (c Config) RedisOptions() (*redis.Options, error) {
	return ParseRedis(c.RedisConnStr)
}

// ParseRedis parses a Redis connection string; see Config.RedisOptions.
func ParseRedis(conn string) (*redis.Options, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return nil, nil
	}
	if strings.Contains(conn, "://") {
		return redis.ParseURL(conn)
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	if opts.Addr == "" {
		return nil, errors.New("redis connection string has no address")
	}
	for _, part := range parts[1:] {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "password":
			opts.Password = value
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(value), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		case "user", "username":
			opts.Username = value
		}
	}
	return opts, nil
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (p *parser) err() error { return errors.Join(p.errs...) }

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	if d < 0 {
		p.fail(key, errors.New("must not be negative"))
		return def
	}
	return d
}

package config

import (
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != DriverMemory || cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DeduperTTL != 24*time.Hour || cfg.ActivityWorkers != 8 || cfg.ActivityHandoff != 15*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ImportLocation != time.UTC {
		t.Fatalf("expected UTC import location, got %v", cfg.ImportLocation)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"DEBUG":                        "true",
		"HTTP_PORT":                    "9000",
		"FUNCTIONS_CUSTOMHANDLER_PORT": "7071",
		"STORAGE_DRIVER":               "Postgres",
		"DATABASE_URL":                 "postgres://localhost/vccrm",
		"TASKS_CACHE_TTL":              "0s",
		"ACTIVITY_WORKERS":             "2",
		"IMPORT_TIMEZONE":              "Asia/Kolkata",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Debug || cfg.ListenAddr != ":7071" || cfg.StorageDriver != DriverPostgres {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.TasksCacheTTL != 0 || cfg.ActivityWorkers != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ImportLocation.String() != "Asia/Kolkata" {
		t.Fatalf("unexpected location: %v", cfg.ImportLocation)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"bad duration":      {"DEDUPER_TTL": "tomorrow"},
		"negative duration": {"ACTIVITY_TIMEOUT": "-1s"},
		"bad int":           {"ACTIVITY_BUFFER": "lots"},
		"zero workers":      {"ACTIVITY_WORKERS": "0"},
		"bad bool":          {"DEBUG": "maybe"},
		"unknown driver":    {"STORAGE_DRIVER": "mongo"},
		"tables needs conn": {"STORAGE_DRIVER": "tables"},
		"postgres needs url": {
			"STORAGE_DRIVER": "postgres",
		},
		"bad timezone": {"IMPORT_TIMEZONE": "Mars/Olympus"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := load(lookupFrom(env)); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestLoadReportsEveryInvalidKey(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{"DEDUPER_TTL": "x", "ACTIVITY_BUFFER": "y"}))
	if err == nil || !strings.Contains(err.Error(), "DEDUPER_TTL") || !strings.Contains(err.Error(), "ACTIVITY_BUFFER") {
		t.Fatalf("expected both keys in error, got %v", err)
	}
}

func TestValidateAuth(t *testing.T) {
	if err := (Config{AuthTestMode: true}).ValidateAuth(); err == nil {
		t.Fatalf("test mode without secret should fail")
	}
	if err := (Config{AuthTestMode: true, TestJWTSecret: "s"}).ValidateAuth(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Config{Auth0Domain: "tenant.eu.auth0.com"}).ValidateAuth(); err == nil {
		t.Fatalf("missing audience should fail")
	}
	cfg := Config{Auth0Domain: "tenant.eu.auth0.com", Auth0Audience: "api://vccrm"}
	if err := cfg.ValidateAuth(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer() != "https://tenant.eu.auth0.com/" || cfg.JWKSURL() != "https://tenant.eu.auth0.com/.well-known/jwks.json" {
		t.Fatalf("unexpected auth urls: %s %s", cfg.Issuer(), cfg.JWKSURL())
	}
}

func TestParseRedis(t *testing.T) {
	opts, err := ParseRedis("")
	if err != nil || opts != nil {
		t.Fatalf("empty string should disable redis, got %v, %v", opts, err)
	}

	opts, err = ParseRedis("redis://:secret@localhost:6379/2")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts, err = ParseRedis("vccrm.redis.cache.windows.net:6380,password=abc=,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse azure form: %v", err)
	}
	if opts.Addr != "vccrm.redis.cache.windows.net:6380" || opts.Password != "abc=" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}
}

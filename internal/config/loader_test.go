package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Engine.Concurrency != 5 {
		t.Errorf("expected concurrency 5, got %d", cfg.Engine.Concurrency)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
postgres:
  max_conns: 20
logging:
  level: "debug"
engine:
  app_name: "orders"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Postgres.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Engine.AppName != "orders" {
		t.Errorf("expected app_name orders, got %s", cfg.Engine.AppName)
	}
	// Unchanged fields keep defaults
	if len(cfg.NATS.URLs) != 1 || cfg.NATS.URLs[0] != "nats://localhost:4222" {
		t.Errorf("expected default NATS URL, got %v", cfg.NATS.URLs)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("PUBSUB_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("PUBSUB_PG_MAX_CONNS", "25")
	t.Setenv("PUBSUB_LOG_LEVEL", "warn")
	t.Setenv("PUBSUB_BREAKER_TIMEOUT", "1m")
	t.Setenv("NATS_URLS", "nats://a:4222,nats://b:4222")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if len(cfg.NATS.URLs) != 2 || cfg.NATS.URLs[1] != "nats://b:4222" {
		t.Errorf("expected two NATS URLs, got %v", cfg.NATS.URLs)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name: "empty DSN with outbox enabled",
			modify: func(c *Config) {
				c.Postgres.DSN = ""
				c.Outbox.Enabled = true
			},
			errMsg: "postgres.dsn is required when outbox or inbox is enabled",
		},
		{
			name:   "empty NATS URLs",
			modify: func(c *Config) { c.NATS.URLs = nil },
			errMsg: "nats.urls is required",
		},
		{
			name:   "empty env",
			modify: func(c *Config) { c.Engine.Env = "" },
			errMsg: "engine.env is required",
		},
		{
			name:   "zero concurrency",
			modify: func(c *Config) { c.Engine.Concurrency = 0 },
			errMsg: "engine.concurrency must be >= 1",
		},
		{
			name:   "invalid on_max_deliver",
			modify: func(c *Config) { c.Engine.OnMaxDeliver = "explode" },
			errMsg: `engine.on_max_deliver must be 'drop' or 'nak', got "explode"`,
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero breaker half-open max calls",
			modify: func(c *Config) { c.Breaker.HalfOpenMaxCalls = 0 },
			errMsg: "breaker.half_open_max_calls must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestParseDurationsSchedule(t *testing.T) {
	schedule, err := parseDurations([]string{"10ms", " 5s ", "1m"})
	if err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{10 * time.Millisecond, 5 * time.Second, time.Minute}
	if len(schedule) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(schedule))
	}
	for i, d := range want {
		if schedule[i] != d {
			t.Errorf("entry %d: expected %v, got %v", i, d, schedule[i])
		}
	}
}

func TestParseDurationsInvalid(t *testing.T) {
	if _, err := parseDurations([]string{"not-a-duration"}); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

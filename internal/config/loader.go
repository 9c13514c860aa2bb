package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "pubsub.yaml"

// CLIFlags holds command-line flag values. Nil pointers indicate unset flags
// that should not override the config. Use ParseFlags to populate this struct.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURLs   *string
	Env        *string
	AppName    *string
}

// ParseFlags parses command-line arguments into CLIFlags.
// Call this before Load/LoadWithCLI. Passing nil args parses os.Args[1:].
func ParseFlags(args []string) (CLIFlags, error) {
	var flags CLIFlags
	if args == nil {
		args = os.Args[1:]
	}

	fs := flag.NewFlagSet("pubsubd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.String("port", "", "health-check HTTP port")
	logLevel := fs.String("log-level", "", "logging level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string")
	natsURLs := fs.String("nats-urls", "", "comma-separated NATS server URLs")
	env := fs.String("env", "", "deployment environment tag")
	appName := fs.String("app", "", "application name")

	if err := fs.Parse(args); err != nil {
		return flags, fmt.Errorf("parse flags: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "port":
			flags.Port = port
		case "log-level":
			flags.LogLevel = logLevel
		case "dsn":
			flags.DSN = dsn
		case "nats-urls":
			flags.NatsURLs = natsURLs
		case "env":
			flags.Env = env
		case "app":
			flags.AppName = appName
		}
	})

	return flags, nil
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadWithCLI returns a Config using the full hierarchy:
// defaults < YAML < ENV < CLI flags. The YAML path can be overridden
// via CLIFlags.ConfigPath.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := finalize(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}

	return &cfg, yamlPath, nil
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := finalize(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overlays CLI flag values onto cfg. Only non-nil flags override.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Postgres.DSN = *flags.DSN
	}
	if flags.NatsURLs != nil {
		cfg.NATS.URLs = strings.Split(*flags.NatsURLs, ",")
	}
	if flags.Env != nil {
		cfg.Engine.Env = *flags.Env
	}
	if flags.AppName != nil {
		cfg.Engine.AppName = *flags.AppName
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PUBSUB_PORT")
	setString(&cfg.Server.CORSOrigin, "PUBSUB_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PUBSUB_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PUBSUB_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PUBSUB_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PUBSUB_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PUBSUB_PG_HEALTH_CHECK")
	setStringList(&cfg.NATS.URLs, "NATS_URLS")
	setDuration(&cfg.NATS.ConnectTimeout, "PUBSUB_NATS_CONNECT_TIMEOUT")
	setInt(&cfg.NATS.MaxReconnects, "PUBSUB_NATS_MAX_RECONNECTS")
	setDuration(&cfg.NATS.ReconnectWait, "PUBSUB_NATS_RECONNECT_WAIT")
	setString(&cfg.Logging.Level, "PUBSUB_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PUBSUB_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PUBSUB_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "PUBSUB_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PUBSUB_BREAKER_TIMEOUT")
	setInt(&cfg.Breaker.HalfOpenMaxCalls, "PUBSUB_BREAKER_HALF_OPEN_MAX_CALLS")

	setString(&cfg.Engine.Env, "PUBSUB_ENV")
	setString(&cfg.Engine.AppName, "PUBSUB_APP_NAME")
	setInt(&cfg.Engine.Concurrency, "PUBSUB_CONCURRENCY")
	setInt(&cfg.Engine.MaxDeliver, "PUBSUB_MAX_DELIVER")
	setDuration(&cfg.Engine.AckWait, "PUBSUB_ACK_WAIT")
	setStringList(&cfg.Engine.BackoffRaw, "PUBSUB_BACKOFF")
	setBool(&cfg.Engine.UseDLQ, "PUBSUB_USE_DLQ")
	setString(&cfg.Engine.DLQStreamSuffix, "PUBSUB_DLQ_SUFFIX")
	setInt(&cfg.Engine.DLQMaxAttempts, "PUBSUB_DLQ_MAX_ATTEMPTS")
	setString(&cfg.Engine.OnMaxDeliver, "PUBSUB_ON_MAX_DELIVER")
	setDuration(&cfg.Engine.DrainTimeout, "PUBSUB_DRAIN_TIMEOUT")
	setBool(&cfg.Engine.StrictDecode, "PUBSUB_STRICT_DECODE")

	setBool(&cfg.Outbox.Enabled, "PUBSUB_OUTBOX_ENABLED")
	setString(&cfg.Outbox.TableName, "PUBSUB_OUTBOX_TABLE")
	setInt(&cfg.Outbox.BatchSize, "PUBSUB_OUTBOX_BATCH_SIZE")
	setDuration(&cfg.Outbox.PollInterval, "PUBSUB_OUTBOX_POLL_INTERVAL")
	setInt(&cfg.Outbox.MaxAttempts, "PUBSUB_OUTBOX_MAX_ATTEMPTS")
	setStringList(&cfg.Outbox.BackoffRaw, "PUBSUB_OUTBOX_BACKOFF")

	setBool(&cfg.Inbox.Enabled, "PUBSUB_INBOX_ENABLED")
	setString(&cfg.Inbox.TableName, "PUBSUB_INBOX_TABLE")
	setDuration(&cfg.Inbox.Retention, "PUBSUB_INBOX_RETENTION")
	setDuration(&cfg.Inbox.SweepInterval, "PUBSUB_INBOX_SWEEP_INTERVAL")
	setDuration(&cfg.Inbox.InProgressNak, "PUBSUB_INBOX_IN_PROGRESS_NAK")
	setInt64(&cfg.Inbox.HotCacheItems, "PUBSUB_INBOX_HOT_CACHE_ITEMS")

	setBool(&cfg.OTEL.Enabled, "PUBSUB_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "PUBSUB_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "PUBSUB_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "PUBSUB_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "PUBSUB_OTEL_SAMPLE_RATE")
}

// finalize resolves derived fields (parsed backoff schedules) and validates
// the config as a whole.
func finalize(cfg *Config) error {
	backoff, err := parseDurations(cfg.Engine.BackoffRaw)
	if err != nil {
		return fmt.Errorf("engine.backoff: %w", err)
	}
	cfg.Engine.Backoff = backoff

	outboxBackoff, err := parseDurations(cfg.Outbox.BackoffRaw)
	if err != nil {
		return fmt.Errorf("outbox.backoff: %w", err)
	}
	cfg.Outbox.Backoff = outboxBackoff

	return validate(cfg)
}

// parseDurations parses a list of human duration strings ("10ms", "5s", "1m")
// into a schedule of time.Duration values, in order.
func parseDurations(raw []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// validate checks that required fields are set and internally consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" && (cfg.Outbox.Enabled || cfg.Inbox.Enabled) {
		return errors.New("postgres.dsn is required when outbox or inbox is enabled")
	}
	if len(cfg.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	if cfg.Engine.Env == "" {
		return errors.New("engine.env is required")
	}
	if cfg.Engine.AppName == "" {
		return errors.New("engine.app_name is required")
	}
	if cfg.Engine.Concurrency < 1 {
		return errors.New("engine.concurrency must be >= 1")
	}
	if cfg.Engine.MaxDeliver < 1 {
		return errors.New("engine.max_deliver must be >= 1")
	}
	if cfg.Engine.OnMaxDeliver != "drop" && cfg.Engine.OnMaxDeliver != "nak" {
		return fmt.Errorf("engine.on_max_deliver must be 'drop' or 'nak', got %q", cfg.Engine.OnMaxDeliver)
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Breaker.HalfOpenMaxCalls < 1 {
		return errors.New("breaker.half_open_max_calls must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

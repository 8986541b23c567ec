package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"angelone_tickstream/models"
)

const (
	SinkClickHouse = "clickhouse"
	SinkNATS       = "nats"
	SinkStdout     = "stdout"
)

type Config struct {
	App struct {
		Environment   string
		LogLevel      string
		LogDir        string
		HTTPAddr      string
		BufferSize    int
		BatchSize     int
		FlushInterval time.Duration
	}

	Angel struct {
		ClientCode     string
		PIN            string
		TOTP           string
		APIKey         string
		ClientLocalIP  string
		ClientPublicIP string
		MACAddress     string
		LoginURL       string
		// Pre-issued tokens skip the login call.
		AuthToken string
		FeedToken string
	}

	Stream struct {
		URL               string
		CorrelationID     string
		Mode              string
		Exchange          string
		Symbols           []string
		InstrumentsFile   string
		InstanceNumber    int
		TokensPerInstance int
		HeartbeatInterval time.Duration
		HeartbeatTimeout  time.Duration
		HandshakeTimeout  time.Duration
		ReadTimeout       time.Duration
	}

	Sink struct {
		Kind string
	}

	ClickHouse struct {
		Host            string
		Port            int
		User            string
		Password        string
		Database        string
		MaxOpenConns    int
		MaxIdleConns    int
		ConnMaxLifetime time.Duration
		QueryTimeout    time.Duration
		Debug           bool
	}

	NATS struct {
		URL           string
		Name          string
		SubjectPrefix string
	}

	Backoff struct {
		InitialInterval time.Duration
		MaxInterval     time.Duration
		MaxElapsedTime  time.Duration
		Multiplier      float64
	}
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; variables already set win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}

	// App settings
	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.LogDir = getEnvOrDefault("LOG_DIR", "logs")
	cfg.App.HTTPAddr = getEnvOrDefault("HTTP_ADDR", ":8080")
	cfg.App.BufferSize = getEnvAsIntOrDefault("BUFFER_SIZE", 1000)
	cfg.App.BatchSize = getEnvAsIntOrDefault("BATCH_SIZE", 1000)
	cfg.App.FlushInterval = getEnvAsDurationOrDefault("FLUSH_INTERVAL", time.Second)

	// AngelOne account
	cfg.Angel.ClientCode = os.Getenv("ANGEL_CLIENT_ID")
	cfg.Angel.PIN = os.Getenv("ANGEL_PIN")
	cfg.Angel.TOTP = os.Getenv("ANGEL_TOTP")
	cfg.Angel.APIKey = os.Getenv("ANGEL_API_KEY")
	cfg.Angel.ClientLocalIP = getEnvOrDefault("ANGEL_CLIENT_LOCAL_IP", "127.0.0.1")
	cfg.Angel.ClientPublicIP = getEnvOrDefault("ANGEL_CLIENT_PUBLIC_IP", "127.0.0.1")
	cfg.Angel.MACAddress = getEnvOrDefault("ANGEL_MAC_ADDRESS", "00:00:00:00:00:00")
	cfg.Angel.LoginURL = os.Getenv("ANGEL_LOGIN_URL")
	cfg.Angel.AuthToken = os.Getenv("ANGEL_AUTH_TOKEN")
	cfg.Angel.FeedToken = os.Getenv("ANGEL_FEED_TOKEN")

	// Stream settings
	cfg.Stream.URL = os.Getenv("STREAM_URL")
	cfg.Stream.Mode = getEnvOrDefault("STREAM_MODE", "snap_quote")
	cfg.Stream.Exchange = getEnvOrDefault("STREAM_EXCHANGE", "nse_cm")
	cfg.Stream.Symbols = getEnvAsListOrDefault("STREAM_SYMBOLS", nil)
	cfg.Stream.InstrumentsFile = getEnvOrDefault("INSTRUMENTS_FILE", "instruments.yaml")
	cfg.Stream.InstanceNumber = getEnvAsIntOrDefault("INSTANCE_NUMBER", 0)
	cfg.Stream.TokensPerInstance = getEnvAsIntOrDefault("TOKENS_PER_INSTANCE", 1000)
	cfg.Stream.HeartbeatInterval = getEnvAsDurationOrDefault("HEARTBEAT_INTERVAL", 10*time.Second)
	cfg.Stream.HeartbeatTimeout = getEnvAsDurationOrDefault("HEARTBEAT_TIMEOUT", 5*time.Second)
	cfg.Stream.HandshakeTimeout = getEnvAsDurationOrDefault("HANDSHAKE_TIMEOUT", 10*time.Second)
	cfg.Stream.ReadTimeout = getEnvAsDurationOrDefault("READ_TIMEOUT", 30*time.Second)
	cfg.Stream.CorrelationID = correlationID(os.Getenv("CORRELATION_ID"), cfg.Stream.InstanceNumber)

	cfg.Sink.Kind = strings.ToLower(getEnvOrDefault("SINK", SinkClickHouse))

	// ClickHouse settings
	cfg.ClickHouse.Host = getEnvOrDefault("CLICKHOUSE_HOST", "localhost")
	cfg.ClickHouse.Port = getEnvAsIntOrDefault("CLICKHOUSE_PORT", 9000)
	cfg.ClickHouse.User = getEnvOrDefault("CLICKHOUSE_USER", "default")
	cfg.ClickHouse.Password = os.Getenv("CLICKHOUSE_PASSWORD")
	cfg.ClickHouse.Database = getEnvOrDefault("CLICKHOUSE_DB", "default")
	cfg.ClickHouse.MaxOpenConns = getEnvAsIntOrDefault("CLICKHOUSE_MAX_OPEN_CONNS", 10)
	cfg.ClickHouse.MaxIdleConns = getEnvAsIntOrDefault("CLICKHOUSE_MAX_IDLE_CONNS", 5)
	cfg.ClickHouse.ConnMaxLifetime = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_CONN_MAX_LIFETIME_MINS", 60)) * time.Minute
	cfg.ClickHouse.QueryTimeout = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_QUERY_TIMEOUT_SECS", 30)) * time.Second
	cfg.ClickHouse.Debug = cfg.App.Environment != "production"

	// NATS settings
	cfg.NATS.URL = getEnvOrDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATS.Name = getEnvOrDefault("NATS_CLIENT_NAME", "tickstream")
	cfg.NATS.SubjectPrefix = getEnvOrDefault("NATS_SUBJECT_PREFIX", "ticks")

	// Reconnect policy
	cfg.Backoff.InitialInterval = getEnvAsDurationOrDefault("BACKOFF_INITIAL", time.Second)
	cfg.Backoff.MaxInterval = getEnvAsDurationOrDefault("BACKOFF_MAX", 30*time.Second)
	cfg.Backoff.MaxElapsedTime = getEnvAsDurationOrDefault("BACKOFF_MAX_ELAPSED", 0)
	cfg.Backoff.Multiplier = getEnvAsFloatOrDefault("BACKOFF_MULTIPLIER", 2.0)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values Load cannot default its way out of.
func (c *Config) Validate() error {
	if _, err := c.SubscriptionMode(); err != nil {
		return err
	}
	if _, err := c.ExchangeType(); err != nil {
		return err
	}
	switch c.Sink.Kind {
	case SinkClickHouse, SinkNATS, SinkStdout:
	default:
		return fmt.Errorf("unknown sink %q", c.Sink.Kind)
	}
	if c.Stream.InstanceNumber < 0 {
		return fmt.Errorf("instance number must not be negative")
	}
	if c.Stream.TokensPerInstance <= 0 {
		return fmt.Errorf("tokens per instance must be positive")
	}
	if c.App.BufferSize <= 0 || c.App.BatchSize <= 0 {
		return fmt.Errorf("buffer and batch size must be positive")
	}
	for name, d := range map[string]time.Duration{
		"flush interval":     c.App.FlushInterval,
		"heartbeat interval": c.Stream.HeartbeatInterval,
		"heartbeat timeout":  c.Stream.HeartbeatTimeout,
		"handshake timeout":  c.Stream.HandshakeTimeout,
		"backoff initial":    c.Backoff.InitialInterval,
		"backoff max":        c.Backoff.MaxInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func (c *Config) SubscriptionMode() (models.SubscriptionMode, error) {
	return models.ParseSubscriptionMode(c.Stream.Mode)
}

func (c *Config) ExchangeType() (models.ExchangeType, error) {
	return models.ParseExchangeType(c.Stream.Exchange)
}

// HasSessionTokens reports whether pre-issued auth and feed tokens are set.
func (c *Config) HasSessionTokens() bool {
	return c.Angel.AuthToken != "" && c.Angel.FeedToken != ""
}

// correlationID substitutes the instance number for "_" so every instance
// gets its own id. An empty id becomes the first 10 characters of a uuid.
func correlationID(id string, instance int) string {
	if id == "" {
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	}
	return strings.ReplaceAll(id, "_", strconv.Itoa(instance))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// Durations accept Go syntax ("1.5s") or a plain number of seconds.
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

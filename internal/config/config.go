package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"tickwatch/internal/logging"
	"tickwatch/internal/storage"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// FeedConfig governs the streaming connection and its recovery behaviour.
type FeedConfig struct {
	URL                  string        `mapstructure:"url"`
	Instruments          []string      `mapstructure:"instruments"`
	RESTEndpoint         string        `mapstructure:"rest_endpoint"`
	Bootstrap            bool          `mapstructure:"bootstrap"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	StaleCheckInterval   time.Duration `mapstructure:"stale_check_interval"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	AdaptiveStale        bool          `mapstructure:"adaptive_stale"`
	MinBackoff           time.Duration `mapstructure:"min_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	GrowthFactor         float64       `mapstructure:"growth_factor"`
	JitterFraction       float64       `mapstructure:"jitter_fraction"`
	FailureCooldown      time.Duration `mapstructure:"failure_cooldown"`
	FailureCooldownAfter int           `mapstructure:"failure_cooldown_after"`
	MinSendSpacing       time.Duration `mapstructure:"min_send_spacing"`
	DailyReconnectCap    int           `mapstructure:"daily_reconnect_cap"`
	DegradedMultiplier   float64       `mapstructure:"degraded_multiplier"`
}

// AlertingConfig defines decision thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	DedupWindow  time.Duration  `mapstructure:"dedup_window"`
	QuietStart   int            `mapstructure:"quiet_start"`
	QuietEnd     int            `mapstructure:"quiet_end"`
	Timezone     string         `mapstructure:"timezone"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Webhook      WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig describes the Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WebhookConfig describes the relay webhook channel.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig selects and parameterises the state backend.
type StorageConfig struct {
	Backend  string                 `mapstructure:"backend"`
	Redis    storage.RedisConfig    `mapstructure:"redis"`
	Database storage.DatabaseConfig `mapstructure:"database"`
}

// TelemetryConfig sizes the in-memory event buffer.
type TelemetryConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TICKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tickwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("feed.url", "wss://ws.kraken.com")
	v.SetDefault("feed.instruments", []string{"XBT/USD"})
	v.SetDefault("feed.rest_endpoint", "https://api.kraken.com/0/public/Ticker")
	v.SetDefault("feed.bootstrap", true)
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.connect_timeout", "10s")
	v.SetDefault("feed.ping_interval", "15s")
	v.SetDefault("feed.stale_check_interval", "5s")
	v.SetDefault("feed.stale_after", "30s")
	v.SetDefault("feed.adaptive_stale", true)
	v.SetDefault("feed.min_backoff", "10s")
	v.SetDefault("feed.max_backoff", "120s")
	v.SetDefault("feed.growth_factor", 1.8)
	v.SetDefault("feed.jitter_fraction", 0.25)
	v.SetDefault("feed.failure_cooldown", "60s")
	v.SetDefault("feed.failure_cooldown_after", 5)
	v.SetDefault("feed.min_send_spacing", "1200ms")
	v.SetDefault("feed.daily_reconnect_cap", 500)
	v.SetDefault("feed.degraded_multiplier", 2.0)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.threshold_pct", 1.0)
	v.SetDefault("alerting.dedup_window", "180s")
	v.SetDefault("alerting.quiet_start", 23)
	v.SetDefault("alerting.quiet_end", 7)
	v.SetDefault("alerting.timezone", "America/Los_Angeles")
	v.SetDefault("alerting.channels", []string{"log"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.ttl", "0s")
	v.SetDefault("storage.database.max_open_conns", 10)
	v.SetDefault("storage.database.max_idle_conns", 5)
	v.SetDefault("storage.database.conn_max_lifetime", "30m")

	v.SetDefault("telemetry.buffer_size", 400)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Feed.Instruments) == 0 {
		return fmt.Errorf("feed.instruments must name at least one pair")
	}
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if c.Feed.GrowthFactor < 1.0 {
		return fmt.Errorf("feed.growth_factor must be at least 1.0")
	}
	if c.Feed.JitterFraction < 0 || c.Feed.JitterFraction > 1 {
		return fmt.Errorf("feed.jitter_fraction must be within [0, 1]")
	}
	if c.Feed.MinBackoff <= 0 || c.Feed.MaxBackoff < c.Feed.MinBackoff {
		return fmt.Errorf("feed backoff bounds are inconsistent")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.QuietStart < 0 || c.Alerting.QuietStart > 23 ||
		c.Alerting.QuietEnd < 0 || c.Alerting.QuietEnd > 23 {
		return fmt.Errorf("alerting quiet hours must be within [0, 23]")
	}
	if _, err := time.LoadLocation(c.Alerting.Timezone); err != nil {
		return fmt.Errorf("alerting.timezone: %w", err)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url is required when the webhook is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("storage.backend must be one of memory, redis, postgres")
	}
	if c.Storage.Backend == "postgres" && c.Storage.Database.DSN == "" {
		return fmt.Errorf("storage.database.dsn is required for the postgres backend")
	}
	if c.Telemetry.BufferSize <= 0 {
		return fmt.Errorf("telemetry.buffer_size must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// QuietLocation resolves the configured timezone. Validate has already
// checked it parses.
func (c *Config) QuietLocation() *time.Location {
	loc, err := time.LoadLocation(c.Alerting.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config holds all configuration for the inbound webhook service and worker.
type Config struct {
	Log      LogConfig       `toml:"log"`
	Webhook  WebhookConfig   `toml:"webhook"`
	Store    StoreConfig     `toml:"store"`
	Postgres PostgresConfig  `toml:"postgres"`
	Redis    RedisConfig     `toml:"redis"`
	AMQP     AMQPConfig      `toml:"amqp"`
	Gateway  GatewayConfig   `toml:"gateway"`
	Media    MediaConfig     `toml:"media"`
	Lock     LockConfig      `toml:"lock"`
	Channels []ChannelConfig `toml:"channels" validate:"dive"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type WebhookConfig struct {
	Addr string `toml:"addr" validate:"required"`
	// Secret enables HMAC-SHA256 verification of X-Webhook-Signature for
	// channels without their own secret.
	Secret    string  `toml:"secret"`
	RateLimit float64 `toml:"rate_limit" validate:"gte=0"`
	RateBurst int     `toml:"rate_burst" validate:"gte=0"`
	Workers   int     `toml:"workers" validate:"gte=1"`
	QueueSize int     `toml:"queue_size" validate:"gte=1"`
}

type StoreConfig struct {
	Driver string `toml:"driver" validate:"oneof=postgres memory"`
}

type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	MaxConns int32  `toml:"max_conns" validate:"gte=0"`
	// Migrate applies embedded migrations when the webhook starts.
	Migrate bool `toml:"migrate"`
}

type RedisConfig struct {
	// URL selects the Redis lock store; empty keeps locks in process.
	URL       string `toml:"url"`
	MaxActive int    `toml:"max_active" validate:"gte=1"`
}

type AMQPConfig struct {
	// URL enables the job queue and message events; empty runs jobs inline.
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
	Queue    string `toml:"queue"`
	Producer string `toml:"producer"`
	Workers  int    `toml:"workers" validate:"gte=1"`
}

type GatewayConfig struct {
	// URL enables forwarding incoming messages to an agent gateway.
	URL        string `toml:"url"`
	Token      string `toml:"token"`
	SessionKey string `toml:"session_key"`
}

type MediaConfig struct {
	Backend  string `toml:"backend" validate:"oneof=local s3"`
	Dir      string `toml:"dir"`
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
	Timeout  int    `toml:"timeout" validate:"gte=0"`
	MaxBytes int64  `toml:"max_bytes" validate:"gte=0"`
}

type LockConfig struct {
	EventTTL     int `toml:"event_ttl" validate:"gte=0"`
	SpinTimeout  int `toml:"spin_timeout_ms" validate:"gte=0"`
	SpinInterval int `toml:"spin_interval_ms" validate:"gte=0"`
}

// ChannelConfig binds an inbox to a provider account.
type ChannelConfig struct {
	InboxID     int64  `toml:"inbox_id" validate:"required,gt=0"`
	AccountID   int64  `toml:"account_id" validate:"required,gt=0"`
	Provider    string `toml:"provider" validate:"required,oneof=baileys zapi"`
	PhoneNumber string `toml:"phone_number"`
	AgentUserID string `toml:"agent_user_id"`
	APIURL      string `toml:"api_url"`
	APIKey      string `toml:"api_key"`
	InstanceID  string `toml:"instance_id"`
	Token       string `toml:"token"`
	ClientToken string `toml:"client_token"`
	Secret      string `toml:"secret"`
}

func (l LockConfig) EventTTLDuration() time.Duration {
	return time.Duration(l.EventTTL) * time.Second
}

func (l LockConfig) SpinTimeoutDuration() time.Duration {
	return time.Duration(l.SpinTimeout) * time.Millisecond
}

func (l LockConfig) SpinIntervalDuration() time.Duration {
	return time.Duration(l.SpinInterval) * time.Millisecond
}

func (m MediaConfig) TimeoutDuration() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

func defaults() Config {
	home := os.Getenv("HOME")
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Webhook: WebhookConfig{
			Addr:      ":18790",
			RateLimit: 50,
			RateBurst: 100,
			Workers:   4,
			QueueSize: 256,
		},
		Store:    StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{MaxConns: 10, Migrate: true},
		Redis:    RedisConfig{MaxActive: 16},
		AMQP: AMQPConfig{
			Exchange: "whatsapp.inbound",
			Queue:    "whatsapp.inbound.jobs",
			Producer: "whatsapp-inbound",
			Workers:  4,
		},
		Gateway: GatewayConfig{SessionKey: "main"},
		Media: MediaConfig{
			Backend: "local",
			Dir:     filepath.Join(home, ".local", "share", "whatsapp-inbound", "media"),
			Timeout: 60,
		},
		Lock: LockConfig{
			EventTTL:     int((24 * time.Hour).Seconds()),
			SpinTimeout:  5000,
			SpinInterval: 100,
		},
	}
}

// Load reads configuration from the TOML config file (if it exists) and
// applies environment variable overrides. Env vars always win.
//
// Config file resolution: WA_INBOUND_CONFIG env var → ~/.config/whatsapp-inbound/config.toml → skip.
func Load() (*Config, error) {
	cfg := defaults()

	path := Path()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// Path returns the config file location, or "" when HOME is unset.
func Path() string {
	if p := os.Getenv("WA_INBOUND_CONFIG"); p != "" {
		return expandHome(p)
	}
	home := os.Getenv("HOME")
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "whatsapp-inbound", "config.toml")
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WA_INBOUND_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("WA_INBOUND_LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}

	if v := os.Getenv("WA_INBOUND_WEBHOOK_ADDR"); v != "" {
		cfg.Webhook.Addr = v
	}
	if v := os.Getenv("WA_INBOUND_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("WA_INBOUND_WEBHOOK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.Workers = n
		}
	}

	if v := os.Getenv("WA_INBOUND_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("WA_INBOUND_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("WA_INBOUND_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("WA_INBOUND_AMQP_URL"); v != "" {
		cfg.AMQP.URL = v
	}

	if v := os.Getenv("WA_INBOUND_GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("WA_INBOUND_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}

	if v := os.Getenv("WA_INBOUND_MEDIA_BACKEND"); v != "" {
		cfg.Media.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("WA_INBOUND_MEDIA_DIR"); v != "" {
		cfg.Media.Dir = v
	}
	if v := os.Getenv("WA_INBOUND_MEDIA_BUCKET"); v != "" {
		cfg.Media.Bucket = v
	}
}

var validate = validator.New()

// Validate fills zero values with defaults and checks the result.
func (c *Config) Validate() error {
	def := defaults()
	if c.Webhook.Workers < 1 {
		c.Webhook.Workers = def.Webhook.Workers
	}
	if c.Webhook.QueueSize < 1 {
		c.Webhook.QueueSize = def.Webhook.QueueSize
	}
	if c.AMQP.Workers < 1 {
		c.AMQP.Workers = def.AMQP.Workers
	}
	if c.Redis.MaxActive < 1 {
		c.Redis.MaxActive = def.Redis.MaxActive
	}
	c.Media.Dir = expandHome(c.Media.Dir)

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Store.Driver == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("invalid config: postgres.dsn is required for store driver postgres")
	}
	if c.Media.Backend == "s3" && c.Media.Bucket == "" {
		return fmt.Errorf("invalid config: media.bucket is required for the s3 backend")
	}

	seen := make(map[int64]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if seen[ch.InboxID] {
			return fmt.Errorf("invalid config: inbox %d configured twice", ch.InboxID)
		}
		seen[ch.InboxID] = true
		if ch.Provider == "zapi" && (ch.InstanceID == "" || ch.Token == "") {
			return fmt.Errorf("invalid config: zapi inbox %d needs instance_id and token", ch.InboxID)
		}
	}
	return nil
}

// Channel returns the channel bound to inboxID.
func (c *Config) Channel(inboxID int64) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.InboxID == inboxID {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

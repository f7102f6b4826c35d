// Package config loads the engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full configuration surface of the engine. Every field has an
// environment tag so deployments stay twelve-factor.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty  bool   `env:"LOG_PRETTY" envDefault:"false"`

	// SQLitePath is the status/profile datastore. Empty disables persistence
	// (useful in tests).
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/rarityleads.db"`

	// AMQPURL enables the external event relay when set.
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"rarityleads.events"`

	// SessionKey is the 32-byte (hex-encoded) AES key protecting persisted
	// channel credentials.
	SessionKey      string `env:"SESSION_ENC_KEY"`
	WhatsAppBridge  string `env:"WHATSAPP_BRIDGE_URL" envDefault:"ws://localhost:3001/bridge"`
	QRRefreshPeriod time.Duration `env:"QR_REFRESH_PERIOD" envDefault:"30s"`

	RateLimit RateLimitConfig
	Queue     QueueConfig
	Channels  ChannelsConfig
	Enrich    EnrichConfig
}

type RateLimitConfig struct {
	Points int           `env:"RATE_LIMIT_POINTS" envDefault:"1000"`
	Window time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
}

type QueueConfig struct {
	// Workers is the per-channel worker pool size.
	Workers        int           `env:"QUEUE_WORKERS" envDefault:"5"`
	EnrichWorkers  int           `env:"QUEUE_ENRICH_WORKERS" envDefault:"3"`
	MaxAttempts    int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay      time.Duration `env:"QUEUE_BASE_DELAY" envDefault:"2s"`
	EnrichAttempts int           `env:"QUEUE_ENRICH_ATTEMPTS" envDefault:"2"`
	EnrichDelay    time.Duration `env:"QUEUE_ENRICH_DELAY" envDefault:"5s"`
	SendTimeout    time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	EnrichTimeout  time.Duration `env:"ENRICH_TIMEOUT" envDefault:"60s"`
}

type ChannelsConfig struct {
	Instagram HTTPChannelConfig `envPrefix:"INSTAGRAM_"`
	Facebook  HTTPChannelConfig `envPrefix:"FACEBOOK_"`
	LinkedIn  HTTPChannelConfig `envPrefix:"LINKEDIN_"`
	X         HTTPChannelConfig `envPrefix:"X_"`
}

// HTTPChannelConfig configures one HTTP-backed channel adapter.
type HTTPChannelConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	APIBase  string `env:"API_BASE"`
	APIToken string `env:"API_TOKEN"`
}

type EnrichConfig struct {
	CacheTTL time.Duration `env:"ENRICH_CACHE_TTL" envDefault:"24h"`

	Clearbit ProviderConfig `envPrefix:"CLEARBIT_"`
	Apollo   ProviderConfig `envPrefix:"APOLLO_"`
	Hunter   ProviderConfig `envPrefix:"HUNTER_"`
	LinkedIn ProviderConfig `envPrefix:"LINKEDIN_PROVIDER_"`
}

// ProviderConfig configures one enrichment data source. RateCap is the
// per-second concurrency cap respecting the provider's quota.
type ProviderConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	APIKey  string `env:"API_KEY"`
	APIBase string `env:"API_BASE"`
	RateCap int    `env:"RATE_CAP"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	// Per-provider quota defaults; an explicit RATE_CAP wins.
	applyRateCap(&cfg.Enrich.Clearbit, 10)
	applyRateCap(&cfg.Enrich.Apollo, 5)
	applyRateCap(&cfg.Enrich.Hunter, 3)
	applyRateCap(&cfg.Enrich.LinkedIn, 5)
	return cfg, nil
}

func applyRateCap(p *ProviderConfig, capacity int) {
	if p.RateCap <= 0 {
		p.RateCap = capacity
	}
}

// Default returns a Config with defaults applied and no environment lookup,
// for tests.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		RateLimit:  RateLimitConfig{Points: 1000, Window: 15 * time.Minute},
		Queue: QueueConfig{
			Workers:        5,
			EnrichWorkers:  3,
			MaxAttempts:    3,
			BaseDelay:      2 * time.Second,
			EnrichAttempts: 2,
			EnrichDelay:    5 * time.Second,
			SendTimeout:    30 * time.Second,
			EnrichTimeout:  60 * time.Second,
		},
		QRRefreshPeriod: 30 * time.Second,
		Enrich: EnrichConfig{
			CacheTTL: 24 * time.Hour,
			Clearbit: ProviderConfig{Enabled: true, RateCap: 10},
			Apollo:   ProviderConfig{Enabled: true, RateCap: 5},
			Hunter:   ProviderConfig{Enabled: true, RateCap: 3},
			LinkedIn: ProviderConfig{Enabled: true, RateCap: 5},
		},
	}
}

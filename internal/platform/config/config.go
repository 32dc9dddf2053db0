package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	TransportWebSocket  = "websocket"
	TransportCentrifuge = "centrifuge"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	AppURL      string `env:"APP_URL" default:"http://localhost:8080"`
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	Transport       string `env:"TRANSPORT" default:"websocket"`
	GatewayEndpoint string `env:"GATEWAY_ENDPOINT"`

	BroadcastConcurrency     int           `env:"BROADCAST_CONCURRENCY" default:"64"`
	BroadcastDeliveryTimeout time.Duration `env:"BROADCAST_DELIVERY_TIMEOUT" default:"5s"`
	BroadcastRateLimit       float64       `env:"BROADCAST_RATE_LIMIT" default:"10"`
	BroadcastRateBurst       int           `env:"BROADCAST_RATE_BURST" default:"20"`
	// BroadcastRateExpiry drops the limiter state of callers idle this long.
	BroadcastRateExpiry time.Duration `env:"BROADCAST_RATE_EXPIRY" default:"5m"`

	// TenantCacheTTL bounds how long a verified tenant login is served from
	// memory. A changed or deleted password keeps working on each running
	// instance for up to this long; tenant-admin cannot reach those caches.
	// Zero disables caching and checks every login against Postgres.
	TenantCacheTTL time.Duration `env:"TENANT_CACHE_TTL" default:"10s"`

	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// TenantAuthEnabled reports whether a tenant directory is configured.
func (c *Config) TenantAuthEnabled() bool {
	return c.DatabaseURL != ""
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"PORT":    cfg.Port,
		"APP_URL": cfg.AppURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	switch cfg.Transport {
	case TransportWebSocket, TransportCentrifuge:
	default:
		return fmt.Errorf("TRANSPORT must be %q or %q, got %q", TransportWebSocket, TransportCentrifuge, cfg.Transport)
	}

	if cfg.BroadcastConcurrency < 1 {
		return errors.New("BROADCAST_CONCURRENCY must be at least 1")
	}
	if cfg.BroadcastDeliveryTimeout <= 0 {
		return errors.New("BROADCAST_DELIVERY_TIMEOUT must be positive")
	}
	if cfg.BroadcastRateLimit <= 0 {
		return errors.New("BROADCAST_RATE_LIMIT must be positive")
	}
	if cfg.BroadcastRateBurst < 1 {
		return errors.New("BROADCAST_RATE_BURST must be at least 1")
	}
	if cfg.BroadcastRateExpiry <= 0 {
		return errors.New("BROADCAST_RATE_EXPIRY must be positive")
	}
	if cfg.TenantCacheTTL < 0 {
		return errors.New("TENANT_CACHE_TTL must not be negative")
	}
	if cfg.MaxWebSocketConnections < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be at least 1")
	}

	if cfg.GatewayEndpoint != "" {
		u, err := url.Parse(cfg.GatewayEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("GATEWAY_ENDPOINT must be an absolute URL, got %q", cfg.GatewayEndpoint)
		}
	}

	if cfg.IsProduction() && cfg.DatabaseURL != "" {
		if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}

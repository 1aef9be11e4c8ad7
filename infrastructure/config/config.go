// Package config loads service configuration from the environment. Every
// entry point calls Load once during init; a local .env file is honored for
// development.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/integration_layer/domain/accesskey"
	"github.com/R3E-Network/integration_layer/domain/shared"
)

// Headers names the request headers the API surfaces read.
type Headers struct {
	Auth              string `env:"HEADER_AUTH,default=x-integrationos-secret"`
	Connection        string `env:"HEADER_CONNECTION,default=x-integrationos-connection-key"`
	EnablePassthrough string `env:"HEADER_ENABLE_PASSTHROUGH,default=x-integrationos-enable-passthrough"`
	RateLimitPrefix   string `env:"HEADER_RATE_LIMIT_PREFIX,default=x-integrationos-rate-limit"`
}

// Cache tunes one named cache.
type Cache struct {
	Size int           `env:"CACHE_SIZE,default=10000"`
	TTL  time.Duration `env:"CACHE_TTL,default=5m"`
}

// Config is the full runtime configuration shared by the API, gateway and
// event dispatcher.
type Config struct {
	Environment string `env:"ENVIRONMENT,default=development"`

	ServerAddress  string `env:"SERVER_ADDRESS,default=0.0.0.0:3005"`
	GatewayAddress string `env:"GATEWAY_ADDRESS,default=0.0.0.0:3006"`
	MetricsAddress string `env:"METRICS_ADDRESS,default=0.0.0.0:9090"`

	EventAccessPassword string `env:"EVENT_ACCESS_PASSWORD,required"`
	Secret              string `env:"SECRET,required"`
	JWTSecret           string `env:"JWT_SECRET,default="`

	RedisURL           string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	QueueName          string `env:"REDIS_QUEUE_NAME,default=events"`
	EventThroughputKey string `env:"EVENT_THROUGHPUT_KEY,default=event-throughput"`
	APIThroughputKey   string `env:"API_THROUGHPUT_KEY,default=api-throughput"`

	DatabaseURL     string `env:"DATABASE_URL,default=mongodb://localhost:27017"`
	DatabaseName    string `env:"DATABASE_NAME,default=events-service"`
	ContextDatabase string `env:"CONTEXT_DATABASE_NAME,default=events-service"`

	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT,default=30s"`
	ScriptTimeout  time.Duration `env:"SCRIPT_TIMEOUT,default=5s"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE,default=30s"`
	OAuthSafetyGap time.Duration `env:"OAUTH_SAFETY_MARGIN,default=2m"`

	DispatcherConcurrency int           `env:"DISPATCHER_CONCURRENCY,default=10"`
	DestinationRetries    uint64        `env:"DESTINATION_RETRIES,default=3"`
	DestinationBackoff    time.Duration `env:"DESTINATION_BACKOFF,default=500ms"`

	OutboundRPS   float64 `env:"OUTBOUND_RPS,default=0"`
	OutboundBurst int     `env:"OUTBOUND_BURST,default=0"`

	MetricsBuffer int `env:"METRICS_BUFFER,default=1024"`

	Headers Headers
	Cache   Cache
}

// Load reads .env when present and decodes the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.AccessKeyPassword(); err != nil {
		return Config{}, err
	}
	if len(cfg.Secret) != 32 {
		return Config{}, fmt.Errorf("SECRET must be 32 bytes, got %d", len(cfg.Secret))
	}
	return cfg, nil
}

// AccessKeyPassword returns the 32-byte access key password.
func (c Config) AccessKeyPassword() (*[accesskey.PasswordLength]byte, error) {
	if len(c.EventAccessPassword) != accesskey.PasswordLength {
		return nil, fmt.Errorf("EVENT_ACCESS_PASSWORD must be %d bytes, got %d", accesskey.PasswordLength, len(c.EventAccessPassword))
	}
	var password [accesskey.PasswordLength]byte
	copy(password[:], c.EventAccessPassword)
	return &password, nil
}

// Env parses the configured environment, defaulting to development on
// unknown values.
func (c Config) Env() shared.Environment {
	env, err := shared.ParseEnvironment(c.Environment)
	if err != nil {
		return shared.EnvDevelopment
	}
	return env
}

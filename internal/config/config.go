// ABOUTME: Configuration loading and parsing for coven-paybot
// ABOUTME: YAML or TOML files with ${VAR} expansion, PAYBOT_* env overrides, and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PAYBOT_SERVER_HTTP_ADDR.
const EnvPrefix = "PAYBOT_"

// Transport kinds.
const (
	TransportHeadless = "headless"
	TransportMatrix   = "matrix"
)

// Config represents the complete coven-paybot configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage" envPrefix:"STORAGE_"`
	Transport TransportConfig `yaml:"transport" toml:"transport" envPrefix:"TRANSPORT_"`
	Ethereum  EthereumConfig  `yaml:"ethereum" toml:"ethereum" envPrefix:"ETHEREUM_"`
	Identity  IdentityConfig  `yaml:"identity" toml:"identity" envPrefix:"IDENTITY_"`
	Fiat      FiatConfig      `yaml:"fiat" toml:"fiat" envPrefix:"FIAT_"`
	Bot       BotConfig       `yaml:"bot" toml:"bot" envPrefix:"BOT_"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth" envPrefix:"AUTH_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
	Tracing   TracingConfig   `yaml:"tracing" toml:"tracing" envPrefix:"TRACING_"`
}

// ServerConfig holds listen addresses for the admin HTTP and gRPC health servers
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr" env:"GRPC_ADDR"` // empty disables gRPC health
}

// StorageConfig selects the session store backend
type StorageConfig struct {
	Driver     string      `yaml:"driver" toml:"driver" env:"DRIVER"` // sqlite, redis, memory
	SQLitePath string      `yaml:"sqlite_path" toml:"sqlite_path" env:"SQLITE_PATH"`
	Redis      RedisConfig `yaml:"redis" toml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig holds a Redis connection
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr" env:"ADDR"`
	Password string `yaml:"password" toml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" toml:"db" env:"DB"`
	Prefix   string `yaml:"prefix" toml:"prefix" env:"PREFIX"`

	TTL    time.Duration `yaml:"-" toml:"-" env:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl" env:"TTL"`
}

// TransportConfig selects how messages reach users and how transactions are signed
type TransportConfig struct {
	Kind     string         `yaml:"kind" toml:"kind" env:"KIND"` // headless or matrix
	Headless HeadlessConfig `yaml:"headless" toml:"headless" envPrefix:"HEADLESS_"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix" envPrefix:"MATRIX_"`
}

// HeadlessConfig configures the Redis pub/sub link to the headless signing client
type HeadlessConfig struct {
	Redis  RedisConfig `yaml:"redis" toml:"redis" envPrefix:"REDIS_"`
	Prefix string      `yaml:"prefix" toml:"prefix" env:"PREFIX"`

	CallTimeout    time.Duration `yaml:"-" toml:"-" env:"-"`
	CallTimeoutRaw string        `yaml:"call_timeout" toml:"call_timeout" env:"CALL_TIMEOUT"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Homeserver    string   `yaml:"homeserver" toml:"homeserver" env:"HOMESERVER"`
	UserID        string   `yaml:"user_id" toml:"user_id" env:"USER_ID"`
	AccessToken   string   `yaml:"access_token" toml:"access_token" env:"ACCESS_TOKEN"`
	AllowedRooms  []string `yaml:"allowed_rooms" toml:"allowed_rooms" env:"ALLOWED_ROOMS" envSeparator:","`
	CommandPrefix string   `yaml:"command_prefix" toml:"command_prefix" env:"COMMAND_PREFIX"`
	SendRate      float64  `yaml:"send_rate" toml:"send_rate" env:"SEND_RATE"`
	SendBurst     int      `yaml:"send_burst" toml:"send_burst" env:"SEND_BURST"`
}

// EthereumConfig points at a JSON-RPC node for balance lookups
type EthereumConfig struct {
	RPCURL string `yaml:"rpc_url" toml:"rpc_url" env:"RPC_URL"`
}

// IdentityConfig points at the identity service
type IdentityConfig struct {
	URL string `yaml:"url" toml:"url" env:"URL"`

	Timeout    time.Duration `yaml:"-" toml:"-" env:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
}

// FiatConfig points at the exchange rate service
type FiatConfig struct {
	URL string `yaml:"url" toml:"url" env:"URL"`

	TTL    time.Duration `yaml:"-" toml:"-" env:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl" env:"TTL"`
}

// BotConfig holds the bot's own addresses and inbound handling settings
type BotConfig struct {
	PaymentAddress string `yaml:"payment_address" toml:"payment_address" env:"PAYMENT_ADDRESS"`
	TokenIDAddress string `yaml:"token_id_address" toml:"token_id_address" env:"TOKEN_ID_ADDRESS"`
	DedupeSize     int    `yaml:"dedupe_size" toml:"dedupe_size" env:"DEDUPE_SIZE"`

	DedupeTTL      time.Duration `yaml:"-" toml:"-" env:"-"`
	SaveTimeout    time.Duration `yaml:"-" toml:"-" env:"-"`
	DedupeTTLRaw   string        `yaml:"dedupe_ttl" toml:"dedupe_ttl" env:"DEDUPE_TTL"`
	SaveTimeoutRaw string        `yaml:"save_timeout" toml:"save_timeout" env:"SAVE_TIMEOUT"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"` // text or json
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
}

// TracingConfig enables span export to stdout
type TracingConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Pretty  bool `yaml:"pretty" toml:"pretty" env:"PRETTY"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then
// PAYBOT_* variables override individual fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment overrides: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used for fields a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "./paybot.db",
		},
		Transport: TransportConfig{
			Kind:     TransportHeadless,
			Headless: HeadlessConfig{Prefix: "paybot"},
		},
		Fiat:    FiatConfig{TTLRaw: "5m"},
		Bot:     BotConfig{DedupeTTLRaw: "10m", DedupeSize: 10000},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q must be sqlite, redis or memory", c.Storage.Driver)
	}

	switch c.Transport.Kind {
	case TransportHeadless:
		if c.Transport.Headless.Redis.Addr == "" {
			return fmt.Errorf("transport.headless.redis.addr is required for the headless transport")
		}
	case TransportMatrix:
		m := c.Transport.Matrix
		if m.Homeserver == "" || m.UserID == "" || m.AccessToken == "" {
			return fmt.Errorf("transport.matrix.homeserver, user_id and access_token are required for the matrix transport")
		}
	default:
		return fmt.Errorf("transport.kind %q must be %s or %s", c.Transport.Kind, TransportHeadless, TransportMatrix)
	}

	if c.Bot.PaymentAddress != "" && !common.IsHexAddress(c.Bot.PaymentAddress) {
		return fmt.Errorf("bot.payment_address %q is not a hex address", c.Bot.PaymentAddress)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"storage.redis.ttl", cfg.Storage.Redis.TTLRaw, &cfg.Storage.Redis.TTL},
		{"transport.headless.call_timeout", cfg.Transport.Headless.CallTimeoutRaw, &cfg.Transport.Headless.CallTimeout},
		{"identity.timeout", cfg.Identity.TimeoutRaw, &cfg.Identity.Timeout},
		{"fiat.ttl", cfg.Fiat.TTLRaw, &cfg.Fiat.TTL},
		{"bot.dedupe_ttl", cfg.Bot.DedupeTTLRaw, &cfg.Bot.DedupeTTL},
		{"bot.save_timeout", cfg.Bot.SaveTimeoutRaw, &cfg.Bot.SaveTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

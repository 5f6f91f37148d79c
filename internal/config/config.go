package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/maltedev/webscout/internal/browser"
	"github.com/maltedev/webscout/internal/database"
)

const envPrefix = "WEBSCOUT_"

type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Browser  BrowserConfig  `envPrefix:"BROWSER_"`
	Shell    ShellConfig    `envPrefix:"SHELL_"`
	Export   ExportConfig   `envPrefix:"EXPORT_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"90s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// DatabaseConfig is optional; product persistence is disabled without a URL
// or host.
type DatabaseConfig struct {
	URL      string        `env:"URL"`
	Host     string        `env:"HOST"`
	Port     int           `env:"PORT" envDefault:"5432"`
	User     string        `env:"USER" envDefault:"postgres"`
	Password string        `env:"PASSWORD"`
	Name     string        `env:"NAME" envDefault:"webscout"`
	SSLMode  string        `env:"SSL_MODE" envDefault:"disable"`
	MaxConns int32         `env:"MAX_CONNS" envDefault:"10"`
	MaxIdle  time.Duration `env:"MAX_CONN_IDLE" envDefault:"5m"`
}

// RedisConfig is optional; settings and cached products stay in memory
// without an address.
type RedisConfig struct {
	Addr         string        `env:"ADDR"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB" envDefault:"0"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"24h"`
	RelayEnabled bool          `env:"RELAY_ENABLED" envDefault:"true"`
	RelayPoll    time.Duration `env:"RELAY_POLL" envDefault:"5s"`
}

type BrowserConfig struct {
	Enabled     bool          `env:"ENABLED" envDefault:"true"`
	Headless    bool          `env:"HEADLESS" envDefault:"true"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	UserAgent   string        `env:"USER_AGENT"`
	Locale      string        `env:"LOCALE" envDefault:"en-US"`
	MaxRetries  int           `env:"MAX_RETRIES" envDefault:"3"`
	SettleDelay time.Duration `env:"SETTLE_DELAY" envDefault:"1s"`
}

type ShellConfig struct {
	DetectAttempts  int           `env:"DETECT_ATTEMPTS" envDefault:"5"`
	DetectInterval  time.Duration `env:"DETECT_INTERVAL" envDefault:"1s"`
	ResponseTimeout time.Duration `env:"RESPONSE_TIMEOUT" envDefault:"10s"`
	DebugCapacity   int           `env:"DEBUG_CAPACITY" envDefault:"500"`
}

type ExportConfig struct {
	Dir string `env:"DIR" envDefault:"exports"`
}

type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load reads WEBSCOUT_* environment variables.
func Load() (*Config, error) {
	return load(env.Options{Prefix: envPrefix})
}

// LoadFrom reads the configuration from the given variables instead of the
// process environment. Keys carry the WEBSCOUT_ prefix.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Prefix: envPrefix, Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.DatabaseEnabled() && c.Database.URL == "" && c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Shell.DetectAttempts < 1 {
		return fmt.Errorf("at least 1 detection attempt is required")
	}

	if c.Shell.DebugCapacity < 1 {
		return fmt.Errorf("debug capacity must be positive: %d", c.Shell.DebugCapacity)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) DatabaseEnabled() bool {
	return c.Database.URL != "" || c.Database.Host != ""
}

func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		URL:         c.Database.URL,
		Host:        c.Database.Host,
		Port:        c.Database.Port,
		User:        c.Database.User,
		Password:    c.Database.Password,
		Database:    c.Database.Name,
		SSLMode:     c.Database.SSLMode,
		MaxConns:    c.Database.MaxConns,
		MaxConnIdle: c.Database.MaxIdle,
	}
}

func (c *Config) BrowserOptions() browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.UserAgent = c.Browser.UserAgent
	opts.Locale = c.Browser.Locale
	opts.MaxRetries = c.Browser.MaxRetries
	opts.SettleDelay = c.Browser.SettleDelay
	return opts
}

package containerobjects

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds environment configuration.
type Config struct {
	Docker    DockerConfig    `mapstructure:"docker"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Log       LogConfig       `mapstructure:"log"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// Proxy types.
const (
	ProxyDirect = "direct"
	ProxyHTTP   = "http"
	ProxySOCKS  = "socks"
)

// ProxyConfig describes how the host reaches containers. Containers are
// addressed by their network address, which may need a proxy when the tests
// do not run on the Docker host.
type ProxyConfig struct {
	Type string `mapstructure:"type"` // direct, http, socks
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"` // 0 selects the default port of the type
}

// Address returns the proxy address in host:port format.
func (c ProxyConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LedgerConfig enables the SQLite record of created Docker resources. An
// empty Path disables it.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// ReadinessConfig holds the defaults of readiness checks.
type ReadinessConfig struct {
	MaxTimeout    time.Duration `mapstructure:"max_timeout"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// =============================================================================
// Config Loading
// =============================================================================

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Proxy: ProxyConfig{Type: ProxyDirect},
		Log:   LogConfig{Level: "info", Format: "text"},
		Readiness: ReadinessConfig{
			MaxTimeout:    DefaultReadinessTimeout,
			CheckInterval: DefaultCheckInterval,
		},
	}
}

// LoadConfig loads configuration from an optional file and the environment.
// Keys are overridden by CONTAINEROBJECTS_* variables. The proxy keys also
// honour DOCKER_NETWORKPROXY_TYPE, DOCKER_NETWORKPROXY_HOSTNAME and
// DOCKER_NETWORKPROXY_PORT.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("docker.host", "")
	v.SetDefault("proxy.type", ProxyDirect)
	v.SetDefault("proxy.host", "")
	v.SetDefault("proxy.port", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("ledger.path", "")
	v.SetDefault("readiness.max_timeout", DefaultReadinessTimeout.String())
	v.SetDefault("readiness.check_interval", DefaultCheckInterval.String())

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("CONTAINEROBJECTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy names; the prefixed variables take precedence.
	_ = v.BindEnv("proxy.type", "CONTAINEROBJECTS_PROXY_TYPE", "DOCKER_NETWORKPROXY_TYPE")
	_ = v.BindEnv("proxy.host", "CONTAINEROBJECTS_PROXY_HOST", "DOCKER_NETWORKPROXY_HOSTNAME")
	_ = v.BindEnv("proxy.port", "CONTAINEROBJECTS_PROXY_PORT", "DOCKER_NETWORKPROXY_PORT")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize fills type dependent defaults and validates the result.
func (c *Config) normalize() error {
	c.Proxy.Type = strings.ToLower(strings.TrimSpace(c.Proxy.Type))
	switch c.Proxy.Type {
	case "", ProxyDirect:
		c.Proxy.Type = ProxyDirect
	case ProxyHTTP:
		if c.Proxy.Port == 0 {
			c.Proxy.Port = 8080
		}
	case ProxySOCKS:
		if c.Proxy.Port == 0 {
			c.Proxy.Port = 1080
		}
	default:
		return fmt.Errorf("unknown proxy type %q", c.Proxy.Type)
	}
	if c.Proxy.Type != ProxyDirect && c.Proxy.Host == "" {
		return fmt.Errorf("proxy type %s requires a host", c.Proxy.Type)
	}
	if c.Proxy.Port < 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("invalid proxy port %d", c.Proxy.Port)
	}

	if c.Readiness.MaxTimeout <= 0 {
		c.Readiness.MaxTimeout = DefaultReadinessTimeout
	}
	if c.Readiness.CheckInterval <= 0 {
		c.Readiness.CheckInterval = DefaultCheckInterval
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Output
// goes to stderr so it does not mix with test output on stdout.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

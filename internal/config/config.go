package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: websocket.url is read from
// STUDYLINK_WEBSOCKET_URL.
const EnvPrefix = "STUDYLINK"

// Socket drivers selectable through websocket.driver.
const (
	DriverGorilla = "gorilla"
	DriverNhooyr  = "nhooyr"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	UserID    string           `mapstructure:"user_id" validate:"omitempty,max=64"`
	WebSocket *WebSocketConfig `mapstructure:"websocket" validate:"required"`
	Reconnect *ReconnectConfig `mapstructure:"reconnect" validate:"required"`
	Mock      *MockConfig      `mapstructure:"mock" validate:"required"`
	Presence  *PresenceConfig  `mapstructure:"presence" validate:"required"`
	Relay     *RelayConfig     `mapstructure:"relay" validate:"required"`
	Log       *LogConfig       `mapstructure:"log" validate:"required"`
}

// WebSocketConfig selects the realtime endpoint. An empty URL selects mock mode.
type WebSocketConfig struct {
	URL          string        `mapstructure:"url" validate:"omitempty,url"`
	Driver       string        `mapstructure:"driver" validate:"oneof=gorilla nhooyr"`
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	BufferSize   int           `mapstructure:"buffer_size" validate:"gt=0"`
}

// ReconnectConfig bounds recovery after an unexpected close.
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0"`
}

// MockConfig tunes the simulated endpoint. Zero intervals disable a generator.
type MockConfig struct {
	EchoDelay            time.Duration `mapstructure:"echo_delay" validate:"gte=0"`
	NotificationInterval time.Duration `mapstructure:"notification_interval" validate:"gte=0"`
	StatusInterval       time.Duration `mapstructure:"status_interval" validate:"gte=0"`
	NotificationChance   float64       `mapstructure:"notification_chance" validate:"gte=0,lte=1"`
	StatusChance         float64       `mapstructure:"status_chance" validate:"gte=0,lte=1"`
}

// PresenceConfig drives the away detection of the demo client.
type PresenceConfig struct {
	IdleThreshold time.Duration `mapstructure:"idle_threshold" validate:"gt=0"`
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"gt=0"`
}

// RelayConfig is the development relay's listener.
type RelayConfig struct {
	Host         string        `mapstructure:"host" validate:"required"`
	Port         int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	RateLimit    int           `mapstructure:"rate_limit" validate:"gt=0"`
}

// LogConfig selects the zap preset and level.
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

// FUNCTIONAL DISCOVERY: Defaults run the client in mock mode with the
// production reconnect ladder (3s base, 5 attempts)
func DefaultConfig() *Config {
	return &Config{
		WebSocket: &WebSocketConfig{
			Driver:       DriverGorilla,
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
		},
		Reconnect: &ReconnectConfig{
			BaseDelay:   3 * time.Second,
			MaxAttempts: 5,
		},
		Mock: &MockConfig{
			EchoDelay:            100 * time.Millisecond,
			NotificationInterval: 30 * time.Second,
			StatusInterval:       15 * time.Second,
			NotificationChance:   0.3,
			StatusChance:         0.2,
		},
		Presence: &PresenceConfig{
			IdleThreshold: 2 * time.Minute,
			CheckInterval: 15 * time.Second,
		},
		Relay: &RelayConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit:    100,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

var validate = validator.New()

// Validate checks every section against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// MockMode reports whether no endpoint is configured.
func (c *Config) MockMode() bool {
	return c.WebSocket == nil || c.WebSocket.URL == ""
}

// Addr is the relay listen address.
func (c *RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// newViper returns an isolated viper instance seeded with defaults and bound to
// the environment.
func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("user_id", d.UserID)

	v.SetDefault("websocket.url", d.WebSocket.URL)
	v.SetDefault("websocket.driver", d.WebSocket.Driver)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)

	v.SetDefault("reconnect.base_delay", d.Reconnect.BaseDelay)
	v.SetDefault("reconnect.max_attempts", d.Reconnect.MaxAttempts)

	v.SetDefault("mock.echo_delay", d.Mock.EchoDelay)
	v.SetDefault("mock.notification_interval", d.Mock.NotificationInterval)
	v.SetDefault("mock.status_interval", d.Mock.StatusInterval)
	v.SetDefault("mock.notification_chance", d.Mock.NotificationChance)
	v.SetDefault("mock.status_chance", d.Mock.StatusChance)

	v.SetDefault("presence.idle_threshold", d.Presence.IdleThreshold)
	v.SetDefault("presence.check_interval", d.Presence.CheckInterval)

	v.SetDefault("relay.host", d.Relay.Host)
	v.SetDefault("relay.port", d.Relay.Port)
	v.SetDefault("relay.read_timeout", d.Relay.ReadTimeout)
	v.SetDefault("relay.write_timeout", d.Relay.WriteTimeout)
	v.SetDefault("relay.rate_limit", d.Relay.RateLimit)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// LoadFromEnv reads STUDYLINK_* variables over the defaults.
func LoadFromEnv() (*Config, error) {
	cfg, err := decode(newViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML, JSON or TOML file over the defaults. The format
// follows the file extension.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrConfigFile, path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w %s: %v", ErrConfigFile, p, err)
		}
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: environment > file > defaults,
// with .env files feeding the environment
func LoadConfigWithPrecedence(path string, dotenvPaths ...string) (*Config, error) {
	if err := LoadDotEnv(dotenvPaths...); err != nil {
		return nil, err
	}

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrConfigFile, path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

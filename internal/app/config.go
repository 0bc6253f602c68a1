package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the CatchMate backend.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Messages     MessageStoreConfig `mapstructure:"messages"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Chat         ChatConfig         `mapstructure:"chat"`
	Push         PushSettings       `mapstructure:"push"`
	Retention    RetentionConfig    `mapstructure:"retention"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MessageStoreConfig locates the append-only chat message log.
type MessageStoreConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures issued tokens.
type JWTSettings struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// ChatConfig tunes the websocket gateway and fan-out.
type ChatConfig struct {
	AuthTimeout     time.Duration `mapstructure:"auth_timeout"`
	SubscribeBuffer int           `mapstructure:"subscribe_buffer"`
	ReadQueueSize   int           `mapstructure:"read_queue_size"`
}

// PushSettings configures the external push gateway.
type PushSettings struct {
	Enabled         bool          `mapstructure:"enabled"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ValidateOnly    bool          `mapstructure:"validate_only"`
}

// RetentionConfig controls background cleanup of idle rooms and stale
// notifications.
type RetentionConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Schedule         string        `mapstructure:"schedule"`
	RoomIdleAfter    time.Duration `mapstructure:"room_idle_after"`
	NotificationDays int           `mapstructure:"notification_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("CATCHMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.rate_limit_per_second", 25)
	v.SetDefault("server.rate_limit_burst", 50)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/catchmate.sqlite")

	v.SetDefault("messages.path", "./data/messages")
	v.SetDefault("messages.in_memory", false)

	v.SetDefault("auth.jwt.issuer", "catchmate")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.jwt.refresh_token_ttl", "336h") // 14 days

	v.SetDefault("chat.auth_timeout", "10s")
	v.SetDefault("chat.subscribe_buffer", 64)
	v.SetDefault("chat.read_queue_size", 256)

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.timeout", "5s")
	v.SetDefault("push.validate_only", false)

	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.schedule", "@daily")
	v.SetDefault("retention.room_idle_after", "720h") // 30 days
	v.SetDefault("retention.notification_days", 90)
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

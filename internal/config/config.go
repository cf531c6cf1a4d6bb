package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "CONFESSIO"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "confessio.db"
	defaultLogLevel             = "info"
	defaultBoardCap             = 200
	defaultExpiryHours          = 24
	defaultSweepIntervalMinutes = 10
	defaultMaxTextLength        = 300
	defaultTokenTTLMinutes      = 60
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	BoardCap         int
	Expiry           time.Duration
	SweepInterval    time.Duration
	MaxTextLength    int
	ModerationSecret string
	TokenTTL         time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("board.cap", defaultBoardCap)
	configViper.SetDefault("board.expiry_hours", defaultExpiryHours)
	configViper.SetDefault("board.sweep_interval_minutes", defaultSweepIntervalMinutes)
	configViper.SetDefault("board.max_text_length", defaultMaxTextLength)
	configViper.SetDefault("moderation.token_ttl_minutes", defaultTokenTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		BoardCap:         configViper.GetInt("board.cap"),
		Expiry:           time.Duration(configViper.GetInt("board.expiry_hours")) * time.Hour,
		SweepInterval:    time.Duration(configViper.GetInt("board.sweep_interval_minutes")) * time.Minute,
		MaxTextLength:    configViper.GetInt("board.max_text_length"),
		ModerationSecret: configViper.GetString("moderation.secret"),
		TokenTTL:         time.Duration(configViper.GetInt("moderation.token_ttl_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	// The secret value itself must never appear in errors or logs.
	if strings.TrimSpace(c.ModerationSecret) == "" {
		return fmt.Errorf("moderation.secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.BoardCap <= 0 {
		return fmt.Errorf("board.cap must be positive")
	}
	if c.Expiry <= 0 {
		return fmt.Errorf("board.expiry_hours must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("board.sweep_interval_minutes must be positive")
	}
	if c.MaxTextLength <= 0 {
		return fmt.Errorf("board.max_text_length must be positive")
	}
	return nil
}

// Package config loads service configuration from file, environment and
// defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config represents the playground service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Compiler CompilerConfig `mapstructure:"compiler"`
	BaseURL  string         `mapstructure:"base_url"`
	Debug    bool           `mapstructure:"debug"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// CompilerConfig contains compile pipeline settings.
type CompilerConfig struct {
	// CDNBase is the URL template for bare package imports.
	CDNBase string `mapstructure:"cdn_base"`
	// JSXImportSource is the framework package providing the JSX runtime.
	JSXImportSource string `mapstructure:"jsx_import_source"`
	// TranspileCacheSize bounds the per-session transform memo.
	TranspileCacheSize int `mapstructure:"transpile_cache_size"`
	// MaxResourceSize bounds a single generated module in bytes.
	MaxResourceSize int `mapstructure:"max_resource_size"`
	// DebounceWindow is the edit-coalescing hint sent to clients.
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	viper.SetConfigName("playground")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/playground")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PLAYGROUND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if !strings.HasPrefix(c.Compiler.CDNBase, "http://") && !strings.HasPrefix(c.Compiler.CDNBase, "https://") {
		return fmt.Errorf("compiler.cdn_base must be an http(s) URL, got %q", c.Compiler.CDNBase)
	}
	if c.Compiler.TranspileCacheSize <= 0 {
		return fmt.Errorf("compiler.transpile_cache_size must be positive")
	}
	if c.Compiler.MaxResourceSize <= 0 {
		return fmt.Errorf("compiler.max_resource_size must be positive")
	}
	if c.Compiler.DebounceWindow < 0 {
		return fmt.Errorf("compiler.debounce_window must not be negative")
	}
	return nil
}

// loadEnvFile loads environment variables from a .env file if one exists.
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Info().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.body_limit", 8*1024*1024) // 8MB of tabs is plenty

	viper.SetDefault("compiler.cdn_base", "https://esm.sh")
	viper.SetDefault("compiler.jsx_import_source", "preact")
	viper.SetDefault("compiler.transpile_cache_size", 256)
	viper.SetDefault("compiler.max_resource_size", 50*1024*1024)
	viper.SetDefault("compiler.debounce_window", "250ms")

	viper.SetDefault("base_url", "http://localhost:8080")
	viper.SetDefault("debug", false)
}

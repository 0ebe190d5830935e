package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables with the RECAPD_
// prefix, applies defaults, and validates the result. Environment
// variables take precedence over defaults; nested keys use underscores,
// e.g. RECAPD_SERVER_PORT maps to server.port.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RECAPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default for every key. Registering a key,
// even with an empty default, is what lets AutomaticEnv find it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("worker.count", 5)
	v.SetDefault("worker.poll_interval", "1s")
	v.SetDefault("worker.task_timeout", "10m")
	v.SetDefault("worker.heartbeat_interval", "30s")

	v.SetDefault("reaper.interval", "60s")
	v.SetDefault("reaper.stale_threshold", "15m")

	v.SetDefault("scanner.interval", "15m")
	v.SetDefault("scanner.initial_lookback", "24h")
	v.SetDefault("scanner.safety_margin", "5m")
}

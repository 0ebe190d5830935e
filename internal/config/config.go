package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	Reaper   ReaperConfig   `mapstructure:"reaper"   validate:"required"`
	Scanner  ScannerConfig  `mapstructure:"scanner"  validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database related settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// WorkerConfig contains the worker pool settings.
type WorkerConfig struct {
	Count             int           `mapstructure:"count"              validate:"required,gt=0,lte=64"`
	PollInterval      time.Duration `mapstructure:"poll_interval"      validate:"required,gt=0"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"       validate:"required,gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"required,gt=0"`
}

// ReaperConfig contains the stale-task reaper settings. StaleThreshold
// must comfortably exceed the worker heartbeat interval or healthy
// workers get their tasks reclaimed out from under them.
type ReaperConfig struct {
	Interval       time.Duration `mapstructure:"interval"        validate:"required,gt=0"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold" validate:"required,gt=0"`
}

// ScannerConfig contains the reconciliation scanner settings.
type ScannerConfig struct {
	Interval        time.Duration `mapstructure:"interval"         validate:"required,gt=0"`
	InitialLookback time.Duration `mapstructure:"initial_lookback" validate:"required,gt=0"`
	SafetyMargin    time.Duration `mapstructure:"safety_margin"    validate:"required,gt=0"`
}

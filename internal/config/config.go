// Package config loads the server's INI-style configuration file
// (`[Service]`, `[HTTP]`, `[Pipeline]` sections) using viper +
// mapstructure: SetDefault then Unmarshal into a mapstructure-tagged
// struct, then a single Validate pass.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ServiceConfig is the `[Service]` section: logging destination and
// rotation for internal/log's rotating-file sink.
type ServiceConfig struct {
	LogDir      string `mapstructure:"log_dir"`
	LogSeverity string `mapstructure:"log_severity"` // debug|info|warn|error
	LogMaxSizeMB int   `mapstructure:"log_max_size_mb"`
	LogMaxAgeDays int  `mapstructure:"log_max_age_days"`
	LogMaxBackups int  `mapstructure:"log_max_backups"`
}

// HTTPConfig is the `[HTTP]` section: frontend bind addresses.
type HTTPConfig struct {
	Address     string `mapstructure:"address"`
	RESTPort    int    `mapstructure:"rest_port"`
	GRPCPort    int    `mapstructure:"grpc_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// PipelineConfig is the `[Pipeline]` section: PipelineManager
// parameters.
type PipelineConfig struct {
	MaxConcurrentWorkload   uint32 `mapstructure:"max_concurrent_workload"`
	MaxPipelineLifetimeSecs int    `mapstructure:"max_pipeline_lifetime_seconds"`
	PipelineManagerPoolSize int    `mapstructure:"pipeline_manager_pool_size"`
}

// Config is the top-level configuration loaded from the `-C <path>`
// file.
type Config struct {
	Service  ServiceConfig  `mapstructure:"Service"`
	HTTP     HTTPConfig     `mapstructure:"HTTP"`
	Pipeline PipelineConfig `mapstructure:"Pipeline"`
}

// Load reads path (any format viper supports: INI, YAML, TOML) and
// returns a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Service.log_dir", "/var/log/hsf-pipeline")
	v.SetDefault("Service.log_severity", "info")
	v.SetDefault("Service.log_max_size_mb", 100)
	v.SetDefault("Service.log_max_age_days", 30)
	v.SetDefault("Service.log_max_backups", 5)

	v.SetDefault("HTTP.address", "0.0.0.0")
	v.SetDefault("HTTP.rest_port", 8080)
	v.SetDefault("HTTP.grpc_port", 50051)
	v.SetDefault("HTTP.metrics_port", 9090)

	v.SetDefault("Pipeline.max_concurrent_workload", 100)
	v.SetDefault("Pipeline.max_pipeline_lifetime_seconds", 30)
	v.SetDefault("Pipeline.pipeline_manager_pool_size", 4)
}

func (c *Config) validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Service.LogSeverity] {
		return fmt.Errorf("invalid Service.log_severity: %s (must be debug/info/warn/error)", c.Service.LogSeverity)
	}
	if c.HTTP.RESTPort <= 0 || c.HTTP.RESTPort > 65535 {
		return fmt.Errorf("invalid HTTP.rest_port: %d", c.HTTP.RESTPort)
	}
	if c.HTTP.GRPCPort <= 0 || c.HTTP.GRPCPort > 65535 {
		return fmt.Errorf("invalid HTTP.grpc_port: %d", c.HTTP.GRPCPort)
	}
	if c.Pipeline.MaxConcurrentWorkload == 0 {
		return fmt.Errorf("Pipeline.max_concurrent_workload must be > 0")
	}
	if c.Pipeline.MaxPipelineLifetimeSecs <= 0 {
		return fmt.Errorf("Pipeline.max_pipeline_lifetime_seconds must be > 0")
	}
	if c.Pipeline.PipelineManagerPoolSize <= 0 {
		return fmt.Errorf("Pipeline.pipeline_manager_pool_size must be > 0")
	}
	return nil
}

// RESTAddr returns the HTTP frontend's bind address.
func (c *Config) RESTAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Address, c.HTTP.RESTPort)
}

// GRPCAddr returns the gRPC frontend's bind address.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Address, c.HTTP.GRPCPort)
}

// MetricsAddr returns the metrics server's bind address.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Address, c.HTTP.MetricsPort)
}

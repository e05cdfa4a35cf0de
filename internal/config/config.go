// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	License            string `mapstructure:"license"`
	KeygenAccountID    string `mapstructure:"keygen_account_id"`
	KeygenProductToken string `mapstructure:"keygen_product_token"`
	KeygenProductID    string `mapstructure:"keygen_product_id"`

	FollowerAddress  string `mapstructure:"follower_address"`
	FollowerPlatform string `mapstructure:"follower_platform"`
	TradersFile      string `mapstructure:"traders_file"`
	DryRun           bool   `mapstructure:"dry_run"`
	UseFillStream    bool   `mapstructure:"use_fill_stream"`

	PollIntervalSeconds        int     `mapstructure:"poll_interval_seconds"`
	SafetyBufferPercent        float64 `mapstructure:"safety_buffer_percent"`
	MaxScalingFactor           float64 `mapstructure:"max_scaling_factor"`
	MinPositionValue           float64 `mapstructure:"min_position_value"`
	SizeChangeTolerancePercent float64 `mapstructure:"size_change_tolerance_percent"`
	ConflictStrategy           string  `mapstructure:"conflict_strategy"`
	AllocationStrategy         string  `mapstructure:"allocation_strategy"`
	MaxTraders                 int     `mapstructure:"max_traders"`

	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
	HistoryDir   string `mapstructure:"history_dir"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

const (
	DefaultPollIntervalSeconds = 30
	DefaultSafetyBuffer        = 95.0
	DefaultMaxScalingFactor    = 1.0
	DefaultMinPositionValue    = 10.0
	DefaultSizeTolerance       = 20.0
	DefaultMaxTraders          = 10
)

var (
	conflictStrategies   = map[string]bool{"combine": true, "largest": true, "first": true}
	allocationStrategies = map[string]bool{"equal": true, "performance": true, "sharpe": true, "custom": true}
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"follower_platform":             "hyperliquid",
		"traders_file":                  "configs/traders.yaml",
		"dry_run":                       true,
		"poll_interval_seconds":         DefaultPollIntervalSeconds,
		"safety_buffer_percent":         DefaultSafetyBuffer,
		"max_scaling_factor":            DefaultMaxScalingFactor,
		"min_position_value":            DefaultMinPositionValue,
		"size_change_tolerance_percent": DefaultSizeTolerance,
		"conflict_strategy":             "combine",
		"allocation_strategy":           "equal",
		"max_traders":                   DefaultMaxTraders,
		"log_file":                      "logs/copybot.log",
		"history_dir":                   "logs",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.KeygenAccountID != "" && cfg.License == "" {
		return errors.New("missing license in configuration")
	}
	if cfg.FollowerAddress == "" {
		return errors.New("missing follower_address in configuration")
	}
	if !conflictStrategies[cfg.ConflictStrategy] {
		return errors.New("invalid conflict_strategy: must be combine, largest or first")
	}
	if !allocationStrategies[cfg.AllocationStrategy] {
		return errors.New("invalid allocation_strategy: must be equal, performance, sharpe or custom")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.PollIntervalSeconds <= 0 {
		return errors.New("invalid poll_interval_seconds")
	}
	if cfg.SafetyBufferPercent <= 0 || cfg.SafetyBufferPercent > 100 {
		return errors.New("invalid safety_buffer_percent")
	}
	if cfg.MaxScalingFactor <= 0 {
		return errors.New("invalid max_scaling_factor")
	}
	if cfg.MinPositionValue < 0 {
		return errors.New("invalid min_position_value")
	}
	if cfg.SizeChangeTolerancePercent <= 0 || cfg.SizeChangeTolerancePercent >= 100 {
		return errors.New("invalid size_change_tolerance_percent")
	}
	if cfg.MaxTraders <= 0 {
		return errors.New("invalid max_traders")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix("COPYBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envLicense := v.GetString("LICENSE"); envLicense != "" {
		cfg.License = envLicense
	}
	if envAddr := v.GetString("FOLLOWER_ADDRESS"); envAddr != "" {
		cfg.FollowerAddress = envAddr
	}
}

/*
Package config loads runtime configuration for a facility instance.

PURPOSE:
  One place for every knob: defaults first, then an optional config file,
  then environment variables (MASSBALANCE_*). The engine never reads the
  environment itself - main resolves a Config and passes it down.
*/
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     int    `mapstructure:"port"`
	DBPath   string `mapstructure:"db_path"`
	LogLevel string `mapstructure:"log_level"`

	// SliceWidth auto-closes the open time slice after this duration.
	// Zero disables width-driven closes (explicit cut-offs only).
	SliceWidth time.Duration `mapstructure:"slice_width"`

	// Tolerance is the reconciliation variance limit as a fraction of the
	// expected batch quantity.
	Tolerance float64 `mapstructure:"tolerance"`

	// RejectBoundViolations switches min/max breaches from advisory
	// warnings to hard rejections. Confirm against the certification
	// scheme before enabling.
	RejectBoundViolations bool `mapstructure:"reject_bound_violations"`

	// CarbonFactor is kg CO2e avoided per kg certified inflow.
	CarbonFactor float64 `mapstructure:"carbon_factor"`

	// MinSustainabilityRatio is the advisory cross-pool ratio floor.
	MinSustainabilityRatio float64 `mapstructure:"min_sustainability_ratio"`

	// SystemPoolID receives reconciliation variances.
	SystemPoolID string `mapstructure:"system_pool_id"`
}

// Load resolves configuration from defaults, an optional config file
// (path may be empty), and MASSBALANCE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("db_path", "massbalance.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("slice_width", time.Duration(0))
	v.SetDefault("tolerance", 0.01)
	v.SetDefault("reject_bound_violations", false)
	v.SetDefault("carbon_factor", 2.5)
	v.SetDefault("min_sustainability_ratio", 0.0)
	v.SetDefault("system_pool_id", "SYSTEM_ADJUSTMENT")

	v.SetEnvPrefix("MASSBALANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

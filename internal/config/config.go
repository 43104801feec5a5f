package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Verification modes.
const (
	VerifyAlways  = "always"
	VerifyMonthly = "monthly"
	VerifyOff     = "off"
)

// Config represents the top-level YAML configuration file.
type Config struct {
	ConfigDir string `mapstructure:"config_dir" yaml:"config_dir"`
	StateDir  string `mapstructure:"state_dir"  yaml:"state_dir,omitempty"`

	Retry     RetryConfig     `mapstructure:"retry"     yaml:"retry"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Verify    VerifyConfig    `mapstructure:"verify"    yaml:"verify"`
	Notify    NotifyConfig    `mapstructure:"notify"    yaml:"notify,omitempty"`
	Vault     VaultConfig     `mapstructure:"vault"     yaml:"vault,omitempty"`
}

// RetryConfig bounds the retry loop around transient backup failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"   yaml:"base_delay"`
}

// RetentionConfig is the snapshot retention policy applied by forget.
type RetentionConfig struct {
	KeepDaily   int `mapstructure:"keep_daily"   yaml:"keep_daily"`
	KeepWeekly  int `mapstructure:"keep_weekly"  yaml:"keep_weekly"`
	KeepMonthly int `mapstructure:"keep_monthly" yaml:"keep_monthly"`
	KeepYearly  int `mapstructure:"keep_yearly"  yaml:"keep_yearly"`
}

// VerifyConfig controls the post-backup integrity check.
type VerifyConfig struct {
	Mode           string `mapstructure:"mode"             yaml:"mode"`
	ReadDataSubset string `mapstructure:"read_data_subset" yaml:"read_data_subset"`
}

// NotifyConfig holds the optional completion webhook.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url,omitempty"`
}

// VaultConfig holds the optional HashiCorp Vault credential source.
type VaultConfig struct {
	Address     string `mapstructure:"address"      yaml:"address,omitempty"`
	ApproleName string `mapstructure:"approle_name" yaml:"approle_name,omitempty"`
	RoleID      string `mapstructure:"role_id"      yaml:"role_id,omitempty"`
	SecretPath  string `mapstructure:"secret_path"  yaml:"secret_path,omitempty"`
}

// Enabled reports whether a Vault credential source is configured.
func (v VaultConfig) Enabled() bool {
	return v.Address != "" && v.SecretPath != ""
}

// Load reads the configuration from the given YAML file using Viper
// and unmarshals into the Config struct. Missing keys fall back to
// defaults; the file itself may be absent entirely.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("config_dir", "/etc/b2up")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "30s")
	v.SetDefault("retention.keep_daily", 7)
	v.SetDefault("retention.keep_weekly", 4)
	v.SetDefault("retention.keep_monthly", 6)
	v.SetDefault("retention.keep_yearly", 1)
	v.SetDefault("verify.mode", VerifyAlways)
	v.SetDefault("verify.read_data_subset", "5%")

	// The config file is optional; defaults cover a full run.
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrLoadConfig, path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat %s: %v", ErrLoadConfig, path, err)
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.UnmarshalExact(c, hook); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.ConfigDir == "" {
		return fmt.Errorf("%w: config_dir is required", ErrValidateConfig)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: retry.max_attempts must be >= 1", ErrValidateConfig)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("%w: retry.base_delay must be positive", ErrValidateConfig)
	}
	switch c.Verify.Mode {
	case VerifyAlways, VerifyMonthly, VerifyOff:
	default:
		return fmt.Errorf("%w: verify.mode must be %q, %q or %q",
			ErrValidateConfig, VerifyAlways, VerifyMonthly, VerifyOff)
	}
	return nil
}

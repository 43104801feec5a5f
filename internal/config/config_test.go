package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "b2up.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ParsesRetryAndRetention(t *testing.T) {
	path := writeConfig(t, `
config_dir: /etc/b2up
retry:
  max_attempts: 5
  base_delay: 45s
retention:
  keep_daily: 14
  keep_weekly: 8
  keep_monthly: 12
  keep_yearly: 2
verify:
  mode: monthly
  read_data_subset: "2.5%"
`)

	var cfg Config
	if err := cfg.Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != 45*time.Second {
		t.Errorf("BaseDelay = %s, want 45s", cfg.Retry.BaseDelay)
	}
	if cfg.Retention.KeepDaily != 14 {
		t.Errorf("KeepDaily = %d, want 14", cfg.Retention.KeepDaily)
	}
	if cfg.Verify.Mode != VerifyMonthly {
		t.Errorf("Verify.Mode = %q, want monthly", cfg.Verify.Mode)
	}
	if cfg.Verify.ReadDataSubset != "2.5%" {
		t.Errorf("ReadDataSubset = %q, want 2.5%%", cfg.Verify.ReadDataSubset)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ConfigDir != "/etc/b2up" {
		t.Errorf("ConfigDir = %q, want /etc/b2up", cfg.ConfigDir)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != 30*time.Second {
		t.Errorf("BaseDelay = %s, want 30s", cfg.Retry.BaseDelay)
	}
	if cfg.Verify.Mode != VerifyAlways {
		t.Errorf("Verify.Mode = %q, want always", cfg.Verify.Mode)
	}
}

func TestLoad_RejectsUnknownVerifyMode(t *testing.T) {
	path := writeConfig(t, "verify:\n  mode: sometimes\n")

	var cfg Config
	err := cfg.Load(path)
	if !errors.Is(err, ErrValidateConfig) {
		t.Fatalf("Load error = %v, want ErrValidateConfig", err)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "retri:\n  max_attempts: 3\n")

	var cfg Config
	err := cfg.Load(path)
	if !errors.Is(err, ErrLoadConfig) {
		t.Fatalf("Load error = %v, want ErrLoadConfig", err)
	}
}

func TestVaultConfigEnabled(t *testing.T) {
	if (VaultConfig{}).Enabled() {
		t.Error("empty VaultConfig reported enabled")
	}
	v := VaultConfig{Address: "https://vault:8200", SecretPath: "secret/data/b2up"}
	if !v.Enabled() {
		t.Error("configured VaultConfig reported disabled")
	}
}

// pkg/settings/settings.go

package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings collects engine configuration from tenantctl.yaml and
// TENANTCTL_* environment variables.
type Settings struct {
	TenantURL       string        `mapstructure:"tenant_url"`
	TenantToken     string        `mapstructure:"tenant_token"`
	StateDir        string        `mapstructure:"state_dir"`
	BreakGlassGroup string        `mapstructure:"break_glass_group"`
	WorkerLimit     int           `mapstructure:"worker_limit"`
	MaxRetries      int           `mapstructure:"max_retries"`
	PerCallTimeout  time.Duration `mapstructure:"per_call_timeout"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec"`
	BackupRetention time.Duration `mapstructure:"backup_retention"`
}

// Load reads settings with sane defaults. A missing config file is fine;
// env vars and flags can supply everything.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("tenantctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "tenantctl"))
	}

	v.SetEnvPrefix("TENANTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("state_dir", defaultStateDir())
	v.SetDefault("break_glass_group", "break-glass-access")
	v.SetDefault("worker_limit", 4)
	v.SetDefault("max_retries", 3)
	v.SetDefault("per_call_timeout", "30s")
	v.SetDefault("requests_per_sec", 10.0)
	v.SetDefault("backup_retention", "720h")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading tenantctl.yaml: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return &s, nil
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "tenantctl")
	}
	return filepath.Join(os.TempDir(), "tenantctl-state")
}

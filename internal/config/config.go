package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the resolved agent configuration. It is loaded once and passed
// into constructors; nothing reads viper after Load returns.
type Config struct {
	KubeconfigPath string `mapstructure:"kubeconfig_path"`
	Namespace      string `mapstructure:"namespace"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Advisor AdvisorConfig `mapstructure:"advisor"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
}

// AdvisorConfig selects and configures the failure advisor.
type AdvisorConfig struct {
	// Provider is one of anthropic, openai, ollama, rules, or none.
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	// TimeoutSec bounds one Suggest call.
	TimeoutSec int `mapstructure:"timeout_sec"`
}

// DeployConfig holds the convergence loop defaults, overridable per command
// invocation by flags.
type DeployConfig struct {
	MaxIterations       int     `mapstructure:"max_iterations"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	ApplyTimeoutSec     int     `mapstructure:"apply_timeout_sec"`
	UpdatedBy           string  `mapstructure:"updated_by"`
}

// Load reads config.yaml from the usual locations, layering SCCPILOT_* env
// variables on top. A missing file is fine; defaults carry the day.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/sccpilot/")
	v.AddConfigPath("$HOME/.sccpilot")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("SCCPILOT")
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kubeconfig_path", "")
	v.SetDefault("namespace", "default")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("advisor.provider", "rules")
	v.SetDefault("advisor.model", "")
	v.SetDefault("advisor.api_key", "")
	v.SetDefault("advisor.base_url", "")
	v.SetDefault("advisor.timeout_sec", 60)

	v.SetDefault("deploy.max_iterations", 3)
	v.SetDefault("deploy.confidence_threshold", 0.7)
	v.SetDefault("deploy.apply_timeout_sec", 300)
	v.SetDefault("deploy.updated_by", "sccpilot")
}

// bindEnvKeys makes the nested keys reachable as SCCPILOT_ADVISOR_API_KEY
// and friends; AutomaticEnv alone does not map nested names.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"kubeconfig_path", "namespace", "log_level", "log_format",
		"advisor.provider", "advisor.model", "advisor.api_key",
		"advisor.base_url", "advisor.timeout_sec",
		"deploy.max_iterations", "deploy.confidence_threshold",
		"deploy.apply_timeout_sec", "deploy.updated_by",
	} {
		env := "SCCPILOT_" + envName(key)
		_ = v.BindEnv(key, env)
	}
}

func envName(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '.' {
			out = append(out, '_')
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

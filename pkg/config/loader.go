package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName      = ".marvin"
	configType      = "yaml"
	envPrefix       = "MARVIN"
	envKeySeparator = "_"
)

// LoadConfig loads configuration from defaults, the config file, MARVIN_*
// environment variables and overrides, later sources winning.
// If configPath is empty, .marvin.yaml is searched in CWD and $HOME; a missing
// file is not an error. Override keys are dotted config keys such as "review.workers".
func LoadConfig(configPath string, overrides map[string]any) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	if err := viperCfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for key, value := range overrides {
		viperCfg.Set(key, value)
	}

	var cfg Config
	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("github.token", "")
	viperCfg.SetDefault("github.app_id", "")
	viperCfg.SetDefault("github.app_key_path", "")
	viperCfg.SetDefault("github.http_timeout", DefaultHTTPTimeout)
	viperCfg.SetDefault("github.use_app_auth", false)

	viperCfg.SetDefault("cache.dir", "")
	viperCfg.SetDefault("cache.ttl", DefaultCacheTTL)
	viperCfg.SetDefault("cache.enabled", true)

	viperCfg.SetDefault("review.exclude", []string{})
	viperCfg.SetDefault("review.workers", DefaultWorkers)
	viperCfg.SetDefault("review.skip_bots", true)

	viperCfg.SetDefault("watch.orgs", []string{})
	viperCfg.SetDefault("watch.server_url", "")
	viperCfg.SetDefault("watch.assign", false)

	viperCfg.SetDefault("output.format", DefaultOutputFormat)
	viperCfg.SetDefault("output.show_changes", false)

	viperCfg.SetDefault("metrics.addr", "")
}

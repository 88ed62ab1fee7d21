// Package config provides layered configuration: embedded defaults, an
// optional user config file, and environment overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const envPrefix = "GRIDLENS"

// Load assembles the configuration. cfgFile, when non-empty, names an
// explicit config file; otherwise gridlens.yaml is searched for in the
// working directory and ~/.config/gridlens. Environment variables use the
// GRIDLENS_ prefix with underscores for nesting (GRIDLENS_ACCOUNT_EMAIL).
func Load(cfgFile string) (*Config, error) {
	// Credentials are commonly kept in a .env file during development.
	_ = godotenv.Load()

	v := viper.New()

	defaults, err := parseDefaults()
	if err != nil {
		return nil, err
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("gridlens")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/gridlens")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}

// parseDefaults flattens the embedded defaults document into dotted viper
// keys so user config and env layers override individual values rather than
// whole sections.
func parseDefaults() (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(defaultsYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}

	flat := make(map[string]any)
	flatten("", doc, flat)
	return flat, nil
}

func flatten(prefix string, value any, out map[string]any) {
	nested, ok := value.(map[string]any)
	if !ok {
		out[prefix] = value
		return
	}
	for key, child := range nested {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		flatten(full, child, out)
	}
}

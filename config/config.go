package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	LogLevel  string        `mapstructure:"log_level" json:"log_level"`
	StorePath string        `mapstructure:"store_path" json:"store_path"`
	Setup     SetupConfig   `mapstructure:"setup" json:"setup"`
	Metrics   MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

type SetupConfig struct {
	// Mode selects where the SRS comes from: "test", "file" or "download".
	Mode string `mapstructure:"mode" json:"mode"`
	// Dir holds compiled circuits, keys and the downloaded SRS cache.
	Dir string `mapstructure:"dir" json:"dir"`
	// PtauPath points at a local powers-of-tau file for mode "file".
	PtauPath string `mapstructure:"ptau_path" json:"ptau_path"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		StorePath: "",
		Setup: SetupConfig{
			Mode: "download",
			Dir:  ".zkdelegate",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// GetConfig loads configuration from the given JSON file, or from config.json
// in the working directory when path is empty. A missing file yields the
// defaults; environment variables override either way.
func GetConfig(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
	}
	viper.SetConfigType("json")
	viper.AutomaticEnv()

	cfg := DefaultConfig()
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound && path == "" {
			return cfg, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return cfg, nil
}

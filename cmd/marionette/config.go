package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration shared by the subcommands.
type Config struct {
	// StoreURL is the base URL of the conversation store. Empty means the
	// in-memory store.
	StoreURL  string `yaml:"storeUrl"`
	ProfileID string `yaml:"profileId"`
	ModelID   string `yaml:"modelId"`

	Serve struct {
		Listen string `yaml:"listen"`
	} `yaml:"serve"`
}

func defaultConfig() *Config {
	cfg := &Config{
		ProfileID: "default",
	}
	cfg.Serve.Listen = ":8423"
	return cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config %s", path)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "could not parse config %s", path)
	}
	return cfg, nil
}

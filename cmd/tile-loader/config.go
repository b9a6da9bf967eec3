package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port              int               `yaml:"port"`
	Origin            string            `yaml:"origin"`
	Provider          string            `yaml:"provider"`
	CacheFile         string            `yaml:"cacheFile"`
	MaxWorkers        int               `yaml:"maxWorkers"`
	ConnectTimeoutSec int               `yaml:"connectTimeoutSec"`
	ReadTimeoutSec    int               `yaml:"readTimeoutSec"`
	Headers           map[string]string `yaml:"headers"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

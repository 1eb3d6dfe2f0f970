package core

import (
	"strings"

	"github.com/gookit/config/v2"
	"github.com/gookit/config/v2/yaml"
)

type RedisConfig struct {
	Addr     string `config:"addr"`
	Password string `config:"password"`
	DB       int    `config:"db"`
}

type PulsarConfig struct {
	URL string `config:"url"`
}

type BrokerConfig struct {
	Driver string       `config:"driver"`
	Redis  RedisConfig  `config:"redis"`
	Pulsar PulsarConfig `config:"pulsar"`
}

type DatabaseConfig struct {
	URL string `config:"url"`
}

type CORSConfig struct {
	Origin string `config:"origin"`
}

type Config struct {
	Addr     string         `config:"addr"`
	JwksURL  string         `config:"jwks_url"`
	CORS     CORSConfig     `config:"cors"`
	Broker   BrokerConfig   `config:"broker"`
	Database DatabaseConfig `config:"database"`
}

func NewConfig(path string) (*Config, error) {
	var appConfig Config

	config.WithOptions(func(opt *config.Options) {
		opt.ParseEnv = true
		opt.DecoderConfig.TagName = "config"
	})

	config.AddDriver(yaml.Driver)

	if err := config.LoadFiles(path); err != nil {
		return nil, err
	}

	if err := config.LoadExists(strings.Replace(path, ".yml", ".local.yml", 1)); err != nil {
		return nil, err
	}

	if err := config.BindStruct("", &appConfig); err != nil {
		return nil, err
	}

	if appConfig.Addr == "" {
		appConfig.Addr = ":8000"
	}
	if appConfig.Broker.Driver == "" {
		appConfig.Broker.Driver = "redis"
	}
	if appConfig.Broker.Redis.Addr == "" {
		appConfig.Broker.Redis.Addr = "localhost:6379"
	}

	return &appConfig, nil
}

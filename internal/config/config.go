package config

import (
	"log"

	"github.com/spf13/viper"
)

type Mpesa struct {
	ConsumerKey    string `mapstructure:"consumer-key"`
	ConsumerSecret string `mapstructure:"consumer-secret"`
	Passkey        string `mapstructure:"passkey"`
	Environment    string `mapstructure:"environment"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL string `mapstructure:"url"`
}

type Config struct {
	Mpesa   Mpesa   `mapstructure:"mpesa"`
	Server  Server  `mapstructure:"server"`
	Metrics Metrics `mapstructure:"metrics"`
	Logs    Logs    `mapstructure:"logs"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

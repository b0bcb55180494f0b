package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	SendBuffer int           `mapstructure:"send_buffer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`

	// ReconnectGrace is how long a dropped participant may rejoin without
	// losing mute-authority state; EmptyGrace ends rooms left empty.
	ReconnectGrace  time.Duration `mapstructure:"reconnect_grace"`
	EmptyGrace      time.Duration `mapstructure:"empty_grace"`
	MaxParticipants int           `mapstructure:"max_participants"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`

	// HistoryDSN enables meeting summary persistence when non-empty.
	HistoryDSN string `mapstructure:"history_dsn"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("token_ttl", "24h")
	v.SetDefault("reconnect_grace", "30s")
	v.SetDefault("empty_grace", "60s")
	v.SetDefault("max_participants", 16)
	v.SetDefault("janitor_interval", "1s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

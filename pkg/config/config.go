package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Port             string `json:"port"`
	DatabaseDSN      string `json:"database_dsn"`
	AMQPURI          string `json:"amqp_uri"`
	AMQPQueue        string `json:"amqp_queue"`
	HeartbeatSeconds int    `json:"heartbeat_seconds"`
}

func Default() Config {
	return Config{
		Port:             ":8080",
		DatabaseDSN:      "host=localhost user=admin password=123456 dbname=eventlink port=5432 sslmode=disable",
		AMQPQueue:        "offline_notifications",
		HeartbeatSeconds: 30,
	}
}

// Load reads a JSON config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(file string) (Config, error) {
	cfg := Default()
	if file == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", file, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", file, err)
	}

	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = 30
	}

	return cfg, nil
}

func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

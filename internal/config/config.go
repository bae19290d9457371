// Package config loads coordinator and worker settings from environment
// variables, with an optional .env file for development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config covers both binaries; each reads the fields it needs.
type Config struct {
	// Port the coordinator HTTP API listens on.
	Port int `env:"PORT" envDefault:"8000"`
	// RedisURL is the shared broker/relay backing store.
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	// MQTTBroker enables action announcement/discovery when non-empty.
	MQTTBroker string `env:"MQTT_BROKER" envDefault:""`

	// LogRetention is the relay history TTL.
	LogRetention time.Duration `env:"LOG_RETENTION" envDefault:"1h"`
	// ResultRetention bounds how long terminal results stay queryable.
	ResultRetention time.Duration `env:"RESULT_RETENTION" envDefault:"24h"`
	// SyncTimeout bounds blocking sync_execute requests.
	SyncTimeout time.Duration `env:"SYNC_TIMEOUT" envDefault:"30s"`
	// StreamPollInterval is the stream endpoint's completion poll tick.
	StreamPollInterval time.Duration `env:"STREAM_POLL_INTERVAL" envDefault:"100ms"`

	// Queues this worker consumes.
	Queues []string `env:"QUEUES" envSeparator:"," envDefault:"default"`
	// Concurrency is the worker's task loop count.
	Concurrency int `env:"CONCURRENCY" envDefault:"4"`

	// Schedules are "CRONSPEC|action|{params json}" lines, ';'-separated.
	Schedules []string `env:"SCHEDULES" envSeparator:";"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env if present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const (
	DefaultRetryLimit     = 10
	DefaultRetryBaseDelay = 5 * time.Millisecond
	DefaultEnv            = "prod"
)

type Config struct {
	ServerAddr     string
	Backend        string
	StoreURL       string
	AllowedOrigins []string
	// RetryLimit bounds how often the room id sequencer and room creation
	// retry after losing a race.
	RetryLimit     uint64
	RetryBaseDelay time.Duration
	Env            string
}

func NewConfig(serverAddr, backend, storeURL string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}

	switch backend {
	case BackendMemory:
	case BackendPostgres, BackendRedis:
		if storeURL == "" {
			return nil, fmt.Errorf("store URL cannot be empty for %s backend", backend)
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}

	return &Config{
		ServerAddr:     serverAddr,
		Backend:        backend,
		StoreURL:       storeURL,
		AllowedOrigins: allowedOrigins,
		RetryLimit:     DefaultRetryLimit,
		RetryBaseDelay: DefaultRetryBaseDelay,
		Env:            DefaultEnv,
	}, nil
}

// Package config loads the viper-backed configuration tree shared by every
// cmd/*/main.go: Database, Bus, Matching, Saga, Lock, and CircuitBreaker
// sections, named after §6's configuration options.
package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	Bus            BusConfig            `mapstructure:"bus"`
	Matching       MatchingConfig       `mapstructure:"matching"`
	Saga           SagaConfig           `mapstructure:"saga"`
	Lock           LockConfig           `mapstructure:"lock"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Outbox         OutboxConfig         `mapstructure:"outbox"`
	LogLevel       string               `mapstructure:"log_level"`
}

// DatabaseConfig configures the Postgres connection shared by every service.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// BusConfig configures the NATS/watermill transport.
type BusConfig struct {
	URL         string `mapstructure:"url"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// MatchingConfig configures the matching engine's worker pool and queues.
type MatchingConfig struct {
	ThreadPoolSize      int     `mapstructure:"thread-pool-size"`
	QueueCapacity       int     `mapstructure:"queue-capacity"`
	CancelQueueCapacity int     `mapstructure:"cancel-queue-capacity"`
	SubmitRateLimit     float64 `mapstructure:"submit-rate-limit"`
	SubmitRateBurst     int     `mapstructure:"submit-rate-burst"`
}

// SagaTimeouts holds the per-layer saga deadlines, in seconds.
type SagaTimeouts struct {
	Order    int `mapstructure:"order"`
	Matching int `mapstructure:"matching"`
	Account  int `mapstructure:"account"`
}

// SagaConfig configures saga timeouts and the sweep interval.
type SagaConfig struct {
	Timeouts        SagaTimeouts `mapstructure:"timeouts"`
	SweepIntervalMS int          `mapstructure:"sweep-interval-ms"`
}

// LockConfig configures the account engine's pessimistic lock timeout.
type LockConfig struct {
	TimeoutMS int `mapstructure:"timeout-ms"`
}

// CircuitBreakerConfig holds the breaker settings of §6. No code reads it:
// resilience.DefaultSettings uses its own fixed values, the same numbers as
// these defaults.
type CircuitBreakerConfig struct {
	FailureThreshold int `mapstructure:"threshold"`
	ResetSeconds     int `mapstructure:"reset-seconds"`
	HalfOpenProbes   int `mapstructure:"half-open-probes"`
}

// OutboxConfig configures the CDC bridge's simulated poller.
type OutboxConfig struct {
	PollIntervalMS int `mapstructure:"poll-interval-ms"`
}

var (
	cfg  *Config
	once sync.Once
)

// Load reads configuration from configPath (a directory) plus the
// TRADCORE_-prefixed environment, applying defaults for anything unset.
func Load(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		cfg = defaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/tradcore")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("TRADCORE")

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("config: failed to read config file: %w", readErr)
				return
			}
		}

		if unmarshalErr := v.Unmarshal(cfg); unmarshalErr != nil {
			err = fmt.Errorf("config: failed to unmarshal: %w", unmarshalErr)
			return
		}
	})

	return cfg, err
}

// Get returns the previously-loaded configuration, loading defaults-only if
// Load was never called.
func Get() *Config {
	if cfg == nil {
		if _, err := Load(""); err != nil {
			panic(fmt.Sprintf("config: failed to load defaults: %v", err))
		}
	}
	return cfg
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "postgres", Name: "tradcore", SSLMode: "disable",
		},
		Bus: BusConfig{
			URL: "nats://localhost:4222", TopicPrefix: "",
		},
		Matching: MatchingConfig{
			ThreadPoolSize: 0, // 0 means "2 x NumCPU", resolved by the engine
			QueueCapacity: 100000, CancelQueueCapacity: 10000,
			SubmitRateLimit: 20000, SubmitRateBurst: 2000,
		},
		Saga: SagaConfig{
			Timeouts:        SagaTimeouts{Order: 30, Matching: 10, Account: 5},
			SweepIntervalMS: 3000,
		},
		Lock: LockConfig{TimeoutMS: 3000},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 10, ResetSeconds: 30, HalfOpenProbes: 5,
		},
		Outbox:   OutboxConfig{PollIntervalMS: 500},
		LogLevel: "info",
	}
}

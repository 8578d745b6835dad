// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"validity/pkg/platform/strings"
)

// Server captures the whole process configuration.
type Server struct {
	Addr            string        `env:"VALIDITY_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"VALIDITY_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// AdminToken guards write endpoints; empty disables the check.
	AdminToken string `env:"VALIDITY_ADMIN_TOKEN"`
	// PolicyFile is the YAML file declaring kinds and segmented objects.
	PolicyFile string `env:"VALIDITY_POLICY_FILE,required,notEmpty"`

	Log    LogConfig
	Store  StoreConfig
	Locker LockerConfig
	Redis  RedisConfig
	Audit  AuditConfig
}

type LogConfig struct {
	Format string `env:"VALIDITY_LOG_FORMAT" envDefault:"json"`
	Level  string `env:"VALIDITY_LOG_LEVEL" envDefault:"info"`
}

type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `env:"VALIDITY_STORE" envDefault:"memory"`
	DSN    string `env:"VALIDITY_DATABASE_URL"`
}

type LockerConfig struct {
	// Driver is "none", "local" or "redis".
	Driver   string        `env:"VALIDITY_LOCKER" envDefault:"local"`
	LeaseTTL time.Duration `env:"VALIDITY_LOCK_LEASE_TTL" envDefault:"30s"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string        `env:"VALIDITY_REDIS_URL"`
	PoolSize     int           `env:"VALIDITY_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"VALIDITY_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"VALIDITY_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"VALIDITY_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"VALIDITY_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

type AuditConfig struct {
	// Sink is "none", "memory", "postgres" or "kafka". The postgres sink
	// writes to the outbox; with brokers configured the outbox is relayed
	// to Kafka.
	Sink          string        `env:"VALIDITY_AUDIT_SINK" envDefault:"none"`
	Brokers       []string      `env:"VALIDITY_KAFKA_BROKERS" envSeparator:","`
	Topic         string        `env:"VALIDITY_AUDIT_TOPIC" envDefault:"validity.audit"`
	AsyncBuffer   int           `env:"VALIDITY_AUDIT_BUFFER" envDefault:"0"`
	RelayInterval time.Duration `env:"VALIDITY_AUDIT_RELAY_INTERVAL" envDefault:"1s"`
}

// FromEnv builds the configuration and validates it.
func FromEnv() (Server, error) {
	cfg, err := env.ParseAs[Server]()
	if err != nil {
		return Server{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Audit.Brokers = strings.DedupeAndTrim(cfg.Audit.Brokers)
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate reports every inconsistency at once.
func (c Server) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("VALIDITY_DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store.Driver))
	}
	switch c.Locker.Driver {
	case "none", "local":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("VALIDITY_REDIS_URL is required for the redis locker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown locker %q", c.Locker.Driver))
	}
	switch c.Audit.Sink {
	case "none", "memory":
	case "postgres":
		if c.Store.Driver != "postgres" {
			errs = append(errs, errors.New("the postgres audit sink needs the postgres store"))
		}
	case "kafka":
		if len(c.Audit.Brokers) == 0 {
			errs = append(errs, errors.New("VALIDITY_KAFKA_BROKERS is required for the kafka audit sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit sink %q", c.Audit.Sink))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

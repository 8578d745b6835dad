package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("VALIDITY_POLICY_FILE", "policies.yaml")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, "memory", cfg.Store.Driver)
		assert.Equal(t, "local", cfg.Locker.Driver)
		assert.Equal(t, "none", cfg.Audit.Sink)
		assert.Equal(t, "json", cfg.Log.Format)
	})

	t.Run("policy file is required", func(t *testing.T) {
		t.Setenv("VALIDITY_POLICY_FILE", "")
		_, err := FromEnv()
		require.Error(t, err)
	})

	t.Run("broker list is cleaned", func(t *testing.T) {
		t.Setenv("VALIDITY_POLICY_FILE", "policies.yaml")
		t.Setenv("VALIDITY_AUDIT_SINK", "kafka")
		t.Setenv("VALIDITY_KAFKA_BROKERS", "k1:9092, k2:9092,,k1:9092")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Audit.Brokers)
	})
}

func TestValidate(t *testing.T) {
	valid := func() Server {
		return Server{
			PolicyFile: "policies.yaml",
			Log:        LogConfig{Format: "json"},
			Store:      StoreConfig{Driver: "memory"},
			Locker:     LockerConfig{Driver: "local"},
			Audit:      AuditConfig{Sink: "none"},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("backends need their connection settings", func(t *testing.T) {
		cfg := valid()
		cfg.Store.Driver = "postgres"
		cfg.Locker.Driver = "redis"
		cfg.Audit.Sink = "kafka"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "VALIDITY_DATABASE_URL")
		assert.Contains(t, err.Error(), "VALIDITY_REDIS_URL")
		assert.Contains(t, err.Error(), "VALIDITY_KAFKA_BROKERS")
	})

	t.Run("postgres audit needs the postgres store", func(t *testing.T) {
		cfg := valid()
		cfg.Audit.Sink = "postgres"
		assert.ErrorContains(t, cfg.Validate(), "postgres store")
	})

	t.Run("unknown values", func(t *testing.T) {
		cfg := valid()
		cfg.Store.Driver = "sqlite"
		cfg.Log.Format = "xml"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown store "sqlite"`)
		assert.Contains(t, err.Error(), `unknown log format "xml"`)
	})
}

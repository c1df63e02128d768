package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("BUS_QUEUE_SIZE", "")

	cfg := Load()
	require.Equal(t, "8083", cfg.Port)
	require.Equal(t, DriverPostgres, cfg.StoreDriver)
	require.Equal(t, 64, cfg.BusQueueSize)
	require.Equal(t, time.Second, cfg.BusPollInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", DriverBadger)
	t.Setenv("BUS_QUEUE_SIZE", "8")
	t.Setenv("BUS_POLL_INTERVAL", "250ms")
	t.Setenv("NOTIFY_WORKERS", "not-a-number")
	t.Setenv("ENV", "production")

	cfg := Load()
	require.Equal(t, DriverBadger, cfg.StoreDriver)
	require.Equal(t, 8, cfg.BusQueueSize)
	require.Equal(t, 250*time.Millisecond, cfg.BusPollInterval)
	require.Equal(t, 4, cfg.NotifyWorkers)
	require.False(t, cfg.IsDevelopment())
}

func TestValidateJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	t.Setenv("ENV", "development")
	require.NoError(t, Load().Validate())

	t.Setenv("ENV", "production")
	require.ErrorIs(t, Load().Validate(), ErrInsecureJWTSecret)
	require.ErrorIs(t, (&Config{Env: "staging"}).Validate(), ErrInsecureJWTSecret)

	t.Setenv("JWT_SECRET", "s3cr3t-from-vault")
	require.NoError(t, Load().Validate())
}

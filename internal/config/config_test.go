package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DEVICE_ID", "dev-1")
	t.Setenv("THING_NAME", "thing-1")
	t.Setenv("DATABASE_URL", "postgres://localhost/edge?sslmode=disable")
}

func TestLoadFromEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("IS_FACTORY", "true")
	t.Setenv("CHANNEL_IDS", "chan-a;chan-b")
	t.Setenv("SENSOR_IDS", "s1;s2")
	t.Setenv("NUM_SUBSCRIBER", "3")
	t.Setenv("THING_PWD", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, RolePublisher, cfg.Role)
	assert.True(t, cfg.IsPublisher())
	assert.Equal(t, []string{"chan-a", "chan-b"}, cfg.Channels)
	assert.Equal(t, 3, cfg.ExpectedSubscribers)
	assert.Equal(t, "secret", cfg.ThingPwd)

	require.Len(t, cfg.Sensors, 2)
	assert.Equal(t, "s1", cfg.Sensors[0].Key)
	assert.Equal(t, "s1", cfg.Sensors[0].Name, "name defaults to key")
	assert.Equal(t, "chan-a", cfg.Sensors[0].Channel, "channel defaults to first")

	// Defaults.
	assert.Equal(t, 10*time.Second, cfg.CycleInterval())
	assert.Equal(t, 5*time.Second, cfg.RPCTimeout())
	assert.Equal(t, 10, cfg.VerifyAttempts)
	assert.Equal(t, 20, cfg.BatchLimit)
}

func TestLoadSubscriberDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("IS_FACTORY", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, RoleSubscriber, cfg.Role)
	assert.Equal(t, []string{PublicChannelKey}, cfg.Channels)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CYCLE_SECONDS", "3")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
role: publisher
cycle_seconds: 30
sensors:
  - key: s1
    name: boiler
    type: temperature
    unit: C
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, RolePublisher, cfg.Role)
	assert.Equal(t, 3, cfg.CycleSeconds, "env wins over file")
	require.Len(t, cfg.Sensors, 1)
	assert.Equal(t, "boiler", cfg.Sensors[0].Name)
	assert.Equal(t, "temperature", cfg.Sensors[0].Type)
}

func TestLoadRejectsMissingIdentity(t *testing.T) {
	t.Setenv("DEVICE_ID", "")
	t.Setenv("THING_NAME", "thing-1")
	t.Setenv("DATABASE_URL", "postgres://localhost/edge")

	_, err := Load("")
	assert.Error(t, err)
}

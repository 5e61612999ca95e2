package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
logging:
  level: debug
  components:
    monitor: warn
radius:
  server: 10.0.0.5
  secret: testing123
nas:
  - name: ap-1
    address: 192.168.88.1
    type: routeros
    default_plan: hourly
    api:
      url: https://192.168.88.1
      username: api
  - name: edge
    address: 192.168.90.1
    type: coa
plans:
  - name: hourly
    duration: 1h
  - name: daily
    duration: 24h
    data_cap_bytes: 1073741824
monitor:
  interval: 10m
store:
  driver: memory
`

func noEnv(string) (string, bool) { return "", false }

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 1812, cfg.RADIUS.AuthPort)
	assert.Equal(t, 1813, cfg.RADIUS.AcctPort)
	assert.Equal(t, 5*time.Second, cfg.RADIUS.Timeout)
	assert.Equal(t, 3, cfg.RADIUS.Retries)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.Interval)
	assert.Equal(t, 8, cfg.Monitor.Workers)
	assert.Equal(t, []int{60, 30, 15, 5}, cfg.Monitor.Thresholds)

	edge := cfg.GetNAS("edge")
	require.NotNil(t, edge)
	assert.Equal(t, "testing123", edge.Secret, "NAS secret falls back to the RADIUS secret")
	assert.Equal(t, 3799, edge.CoAPort)

	require.Len(t, cfg.Plans, 2)
	assert.Equal(t, 24*time.Hour, cfg.Plans[1].Duration)
	assert.Equal(t, uint64(1<<30), cfg.Plans[1].DataCapBytes)

	assert.Equal(t, "ap-1", cfg.NASByAddress("192.168.88.1").Name)
	assert.Nil(t, cfg.NASByAddress("10.9.9.9"))
}

func TestParseEnvOverrides(t *testing.T) {
	env := map[string]string{
		"HOTSPOTD_RADIUS_SECRET":     "from-env",
		"HOTSPOTD_NAS_AP_1_PASSWORD": "s3cret",
		"HOTSPOTD_NAS_EDGE_SECRET":   "edge-secret",
		"HOTSPOTD_STORE_DSN":         "ignored-for-memory",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := Parse([]byte(sampleConfig), lookup)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.RADIUS.Secret)
	assert.Equal(t, "s3cret", cfg.GetNAS("ap-1").API.Password)
	assert.Equal(t, "edge-secret", cfg.GetNAS("edge").Secret)
	assert.Equal(t, "ignored-for-memory", cfg.Store.DSN)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "HOTSPOTD_NAS_AP_1_PASSWORD", EnvName("ap-1", "password"))
	assert.Equal(t, "HOTSPOTD_NAS_LOBBY_AP_SECRET", EnvName("lobby.ap", "secret"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown nas type",
			yaml: "nas:\n  - {name: a, address: 10.0.0.1, type: cisco}\nstore: {driver: memory}\n",
		},
		{
			name: "routeros without api url",
			yaml: "nas:\n  - {name: a, address: 10.0.0.1, type: routeros}\nstore: {driver: memory}\n",
		},
		{
			name: "bad nas address",
			yaml: "nas:\n  - {name: a, address: nope, type: coa, secret: x}\nstore: {driver: memory}\n",
		},
		{
			name: "duplicate nas",
			yaml: "nas:\n  - {name: a, address: 10.0.0.1, type: coa, secret: x}\n  - {name: a, address: 10.0.0.2, type: coa, secret: x}\nstore: {driver: memory}\n",
		},
		{
			name: "thresholds not descending",
			yaml: "monitor: {thresholds: [5, 15]}\nstore: {driver: memory}\n",
		},
		{
			name: "plan shorter than a minute",
			yaml: "plans:\n  - {name: quick, duration: 30s}\nstore: {driver: memory}\n",
		},
		{
			name: "duplicate plan",
			yaml: "plans:\n  - {name: h, duration: 1h}\n  - {name: h, duration: 2h}\nstore: {driver: memory}\n",
		},
		{
			name: "unknown store driver",
			yaml: "store: {driver: mongo}\n",
		},
		{
			name: "postgres without dsn",
			yaml: "store: {driver: postgres}\n",
		},
		{
			name: "radius server without secret",
			yaml: "radius: {server: 10.0.0.5}\nstore: {driver: memory}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), noEnv)
			assert.Error(t, err)
		})
	}
}

func TestLoadAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hotspotd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(sampleConfig), 0600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("HOTSPOTD_NAS_AP_1_PASSWORD=dotenv\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("HOTSPOTD_NAS_AP_1_PASSWORD") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envPath))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "dotenv", cfg.GetNAS("ap-1").API.Password)
}

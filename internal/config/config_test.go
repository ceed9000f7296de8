package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/gatekeeper/internal/config"
)

// isolate runs the test in an empty directory so no stray .env is read.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Reader.Device)
	assert.Equal(t, 115200, cfg.Reader.Baud)
	assert.Equal(t, time.Second, cfg.Reader.ReadTimeout())
	assert.Equal(t, 5*time.Second, cfg.Reader.Backoff())
	assert.Equal(t, time.Duration(0), cfg.Reader.Debounce())
	assert.Equal(t, "GPIO17", cfg.Actuator.RelayPin)
	assert.Equal(t, time.Second, cfg.Actuator.Pulse())
	assert.Equal(t, time.Duration(0), cfg.Archive.Interval())
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("GATE_HTTP_ADDR", ":9000")
	t.Setenv("GATE_ENV", "PROD")
	t.Setenv("GATE_STORE", "sqlite")
	t.Setenv("GATE_READER_ENABLED", "true")
	t.Setenv("GATE_SERIAL_PORT", "/dev/ttyACM1")
	t.Setenv("GATE_BAUD_RATE", "9600")
	t.Setenv("GATE_READER_DEBOUNCE_MS", "1500")
	t.Setenv("GATE_ACTUATOR", "gpio")
	t.Setenv("GATE_KNOWN_VEHICLES", "ABC123=KA01AB1234, bad, =X, FT1 = KA-05 ")
	t.Setenv("GATE_CORS_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("GATE_ARCHIVE_INTERVAL_MINUTES", "30")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.True(t, cfg.Reader.Enabled)
	assert.Equal(t, "/dev/ttyACM1", cfg.Reader.Device)
	assert.Equal(t, 9600, cfg.Reader.Baud)
	assert.Equal(t, 1500*time.Millisecond, cfg.Reader.Debounce())
	assert.Equal(t, "gpio", cfg.Actuator.Driver)
	assert.Equal(t, []config.KnownVehicle{
		{TagID: "ABC123", VehicleNo: "KA01AB1234"},
		{TagID: "FT1", VehicleNo: "KA-05"},
	}, cfg.KnownVehicles)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, 30*time.Minute, cfg.Archive.Interval())
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	isolate(t)
	t.Setenv("GATE_READER_BACKOFF_MS", "soon")
	t.Setenv("GATE_RELAY_PULSE_MS", "-5")
	t.Setenv("GATE_ENV", "staging")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Reader.BackoffMs)
	assert.Equal(t, 1000, cfg.Actuator.PulseMs)
	assert.Equal(t, "dev", cfg.Env)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":7000"
store:
  driver: memory
reader:
  enabled: true
  encoding: text
known_vehicles:
  - tag_id: ABC123
    vehicle_no: KA01AB1234
archive:
  s3_bucket: gate-archive
`), 0o644))
	t.Setenv("GATE_CONFIG_FILE", path)
	t.Setenv("GATE_HTTP_ADDR", ":7001")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "./gate_data.json", cfg.Store.JSONPath)
	assert.True(t, cfg.Reader.Enabled)
	assert.Equal(t, "text", cfg.Reader.Encoding)
	assert.Equal(t, 115200, cfg.Reader.Baud)
	assert.Equal(t, []config.KnownVehicle{{TagID: "ABC123", VehicleNo: "KA01AB1234"}}, cfg.KnownVehicles)
	assert.Equal(t, "gate-archive", cfg.Archive.S3Bucket)
}

func TestLoad_YAMLUnknownFieldFails(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "gate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay_pinn: GPIO4\n"), 0o644))
	t.Setenv("GATE_CONFIG_FILE", path)

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_MissingYAMLFails(t *testing.T) {
	dir := isolate(t)
	t.Setenv("GATE_CONFIG_FILE", filepath.Join(dir, "nope.yaml"))

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GATE_RELAY_PIN=GPIO27\n"), 0o644))
	t.Setenv("GATE_RELAY_PIN", "")
	os.Unsetenv("GATE_RELAY_PIN")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "GPIO27", cfg.Actuator.RelayPin)
}

func TestLoad_InvalidDrivers(t *testing.T) {
	isolate(t)
	t.Setenv("GATE_STORE", "postgres")
	_, err := config.Load()
	assert.Error(t, err)

	t.Setenv("GATE_STORE", "json")
	t.Setenv("GATE_ACTUATOR", "servo")
	_, err = config.Load()
	assert.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"croprec/pipeline"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.yaml"), filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, pipeline.DefaultArtifactFiles(), cfg.ArtifactFiles())

	contract, err := cfg.Contract()
	require.NoError(t, err)
	assert.Nil(t, contract)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
http:
  port: 9090
  request_timeout: 3s
artifacts:
  dir: /srv/models
  model_type: random_forest
  features: [Nitrogen, Phosphorous, Potassium, temperature, humidity, ph, rainfall]
images:
  dir: /srv/images
  watch: false
database:
  path: ""
mqtt:
  broker: tcp://broker:1883
log:
  level: debug
  format: console
fields:
  rainfall:
    max: 300
`)
	cfg, err := Load(path, filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 3*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout, "unset keys keep defaults")
	assert.Equal(t, "/srv/models", cfg.ArtifactFiles().Dir)
	assert.Equal(t, "random_forest", cfg.ArtifactFiles().ModelType)
	assert.Equal(t, "scaler.json", cfg.ArtifactFiles().Scaler)
	assert.False(t, cfg.Images.Watch)
	assert.Empty(t, cfg.Database.Path)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "console", cfg.Log.Format)

	contract, err := cfg.Contract()
	require.NoError(t, err)
	assert.Equal(t, pipeline.DefaultContract(), contract)

	fields, err := cfg.FormFields()
	require.NoError(t, err)
	for _, f := range fields {
		if f.Feature == pipeline.Rainfall {
			assert.Equal(t, 300.0, f.Max)
			assert.Equal(t, 0.0, f.Min)
		}
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "http:\n  port: 9090\nlog:\n  level: warn\n")
	env := writeFile(t, dir, ".env", "CROPREC_LOG_LEVEL=debug\nCROPREC_MQTT_BROKER=tcp://from-dotenv:1883\n")

	t.Setenv("CROPREC_HTTP_PORT", "7070")
	t.Setenv("CROPREC_FEATURES", "N, P, K, temperature, humidity, ph, rainfall")
	t.Setenv("CROPREC_MQTT_BROKER", "tcp://from-env:1883")
	// godotenv writes the process environment; drop what it sets
	t.Setenv("CROPREC_LOG_LEVEL", "")
	os.Unsetenv("CROPREC_LOG_LEVEL")

	cfg, err := Load(path, env)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "tcp://from-env:1883", cfg.MQTT.Broker, "real environment beats .env")
	assert.Len(t, cfg.Artifacts.Features, 7)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown key", yaml: "htp:\n  port: 1\n"},
		{name: "bad port", yaml: "http:\n  port: 70000\n"},
		{name: "bad format", yaml: "log:\n  format: xml\n"},
		{name: "bad qos", yaml: "mqtt:\n  qos: 3\n"},
		{name: "unknown feature", yaml: "artifacts:\n  features: [N, P, salinity]\n"},
		{name: "duplicate feature", yaml: "artifacts:\n  features: [N, nitrogen]\n"},
		{name: "inverted range", yaml: "fields:\n  ph:\n    min: 9\n    max: 3\n"},
		{name: "default outside range", yaml: "fields:\n  ph:\n    default: 15\n"},
		{name: "unknown field", yaml: "fields:\n  salinity:\n    max: 3\n"},
		{name: "bad env int", env: map[string]string{"CROPREC_HTTP_PORT": "eighty"}},
		{name: "bad env duration", env: map[string]string{"CROPREC_REQUEST_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "config.yaml", tt.yaml)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(path, filepath.Join(dir, ".env"))
			assert.Error(t, err)
		})
	}
}

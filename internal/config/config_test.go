package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Transport.URL)
	assert.Equal(t, time.Second, cfg.Transport.ReconnectBase)
	assert.Equal(t, 30*time.Second, cfg.Transport.ReconnectCap)
	assert.Equal(t, 10, cfg.Transport.MaxReconnectAttempts)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StepTimeout)
	assert.Equal(t, 3, cfg.Pipeline.RetryAttempts)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9191
transport:
  url: ws://example.test/ws
  max_reconnect_attempts: 5
pipeline:
  retry_attempts: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "ws://example.test/ws", cfg.Transport.URL)
	assert.Equal(t, 5, cfg.Transport.MaxReconnectAttempts)
	assert.Equal(t, 2, cfg.Pipeline.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StepTimeout, "unset fields keep defaults")
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o644))

	t.Setenv("ELT_SERVER_PORT", "7070")
	t.Setenv("ELT_TRANSPORT_PING_INTERVAL", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "environment wins over file")
	assert.Equal(t, 45*time.Second, cfg.Transport.PingInterval)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidationRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		wants string
	}{
		{"bad port", map[string]string{"ELT_SERVER_PORT": "99999"}, "invalid server port"},
		{"zero reconnect base", map[string]string{"ELT_TRANSPORT_RECONNECT_BASE": "0s"}, "reconnect base"},
		{"cap below base", map[string]string{"ELT_TRANSPORT_RECONNECT_CAP": "500ms"}, "reconnect cap"},
		{"negative retries", map[string]string{"ELT_PIPELINE_RETRY_ATTEMPTS": "-1"}, "retry attempts"},
		{"zero step timeout", map[string]string{"ELT_PIPELINE_STEP_TIMEOUT": "0s"}, "step timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wants)
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config from file")
}

// ABOUTME: Tests for YAML config loading, env expansion, and validation
// ABOUTME: Uses temp files to exercise the full Load path

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/eva.db"
auth:
  jwt_secret: "test-secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/eva.db", cfg.Database.Path)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, DefaultStreamDelay, cfg.Chat.StreamDelay)
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/eva.db"
auth:
  jwt_secret: "test-secret"
chat:
  stream_delay: "25ms"
  inference_timeout: "90s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25*time.Millisecond, cfg.Chat.StreamDelay)
	assert.Equal(t, 90*time.Second, cfg.Chat.InferenceTimeout)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/eva.db"
auth:
  jwt_secret: "test-secret"
chat:
  stream_delay: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream_delay")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("EVA_TEST_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/eva.db"
auth:
  jwt_secret: "${EVA_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "/tmp/eva.db"
auth:
  jwt_secret: "s"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: "127.0.0.1:8080"
auth:
  jwt_secret: "s"
`,
			wantErr: "database.path",
		},
		{
			name: "missing jwt secret",
			content: `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/eva.db"
`,
			wantErr: "auth.jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/gateway.yaml")
	require.Error(t, err)
}

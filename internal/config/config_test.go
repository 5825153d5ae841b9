package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "server: {}\n")
	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
	assert.Equal(t, DefaultCacheEntries, cfg.Cache.MaxEntries)
	assert.Equal(t, DefaultCacheTTL, cfg.Cache.TTLDuration())
	assert.Equal(t, int64(DefaultMaxBlobSize), cfg.Limits.MaxBlobSize)
	assert.Equal(t, DefaultMaxFiles, cfg.Limits.MaxFiles)
	assert.Equal(t, int64(DefaultMaxTotalSize), cfg.Limits.MaxTotalFileSize)
}

func TestLoadConfigFull(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
server:
  host: 127.0.0.1
  port: 9000
  transport: http
cache:
  maxEntries: 4
  ttl: 30s
limits:
  maxBlobSize: 1024
  maxFiles: 100
  maxTotalFileSize: 65536
ops:
  address: ":9090"
`)
	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address())
	assert.Equal(t, TransportHTTP, cfg.Server.Transport)
	assert.Equal(t, 4, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTLDuration())
	assert.Equal(t, int64(1024), cfg.Limits.MaxBlobSize)
	assert.Equal(t, ":9090", cfg.Ops.Address)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "bad transport",
			content: "server:\n  transport: grpc\n",
			wantErr: "server.transport",
		},
		{
			name:    "bad ttl",
			content: "cache:\n  ttl: often\n",
			wantErr: "cache.ttl",
		},
		{
			name:    "negative cache entries",
			content: "cache:\n  maxEntries: -1\n",
			wantErr: "cache.maxEntries",
		},
		{
			name:    "negative limit",
			content: "limits:\n  maxBlobSize: -5\n",
			wantErr: "limits",
		},
		{
			name:    "port out of range",
			content: "server:\n  port: 99999\n",
			wantErr: "server.port",
		},
		{
			name:    "not yaml",
			content: "{{nope",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfigFile(t, tc.content)
			_, err := LoadConfig(WithConfigPath(path))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadConfigMissingPath(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = LoadConfig(WithConfigPath(""))
	require.Error(t, err)
}

func TestLoadConfigNonExistentFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestGetTokenFromFile(t *testing.T) {
	t.Parallel()

	tokenPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("glpat-secret\n"), 0o600))

	auth := &AuthConfig{TokenFile: tokenPath}
	token, err := auth.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "glpat-secret", token)
}

func TestGetTokenFromEnv(t *testing.T) {
	t.Setenv(EnvTokenVar, "env-secret")

	auth := &AuthConfig{}
	token, err := auth.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "env-secret", token)
}

func TestGetTokenFileError(t *testing.T) {
	t.Parallel()

	auth := &AuthConfig{TokenFile: filepath.Join(t.TempDir(), "missing")}
	_, err := auth.GetToken()
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.validate())
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
}

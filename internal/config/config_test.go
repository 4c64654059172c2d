package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/storage-files-export/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultTarget, cfg.Target)
	assert.Equal(t, 100, cfg.PageSize)
	assert.Equal(t, ";", cfg.Separator)
	assert.Equal(t, "parsed_result.csv", cfg.Output)
	assert.Equal(t, "config.json", cfg.Credentials)
	assert.True(t, cfg.Silent)
	assert.False(t, cfg.Insecure)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverDefaults(t *testing.T) {
	path := writeTemp(t, "export.yaml", `
target: https://connection.keboola.com/v2/storage/files
page_size: 50
separator: "\t"
timeout: 45s
requests_per_second: 2.5
redis:
  addr: localhost:6379
  db: 3
cache_ttl: 1m
push_gateway: http://pushgateway:9091
log:
  level: debug
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://connection.keboola.com/v2/storage/files", cfg.Target)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, "\t", cfg.Separator)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 2.5, cfg.RequestsPerSecond)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, "http://pushgateway:9091", cfg.PushGateway)
	assert.Equal(t, logging.LevelDebug, cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)

	// untouched keys keep defaults
	assert.Equal(t, "parsed_result.csv", cfg.Output)
	assert.True(t, cfg.Silent)
	assert.Equal(t, "storage-files-export", cfg.Log.Service)

	require.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeTemp(t, "bad.yaml", "page_size: [1, 2"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "missing target", modify: func(c *Config) { c.Target = "" }, wantErr: "Config.Target"},
		{name: "target not a url", modify: func(c *Config) { c.Target = "not a url" }, wantErr: "Config.Target"},
		{name: "negative page size", modify: func(c *Config) { c.PageSize = -5 }, wantErr: "Config.PageSize"},
		{name: "long separator", modify: func(c *Config) { c.Separator = ";;" }, wantErr: "Config.Separator"},
		{name: "quote separator", modify: func(c *Config) { c.Separator = `"` }, wantErr: "invalid separator"},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }, wantErr: "Config.Timeout"},
		{name: "bad redis addr", modify: func(c *Config) { c.Redis.Addr = "no-port" }, wantErr: "Config.Redis.Addr"},
		{name: "bad push gateway", modify: func(c *Config) { c.PushGateway = "::" }, wantErr: "Config.PushGateway"},
		{name: "bad log level", modify: func(c *Config) { c.Log.Level = "loud" }, wantErr: "Config.Log.Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	path := writeTemp(t, "config.json", `{"X-StorageApi-Token": "123-abc", "x-extra": "1"}`)

	headers, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "123-abc", headers.Get("X-StorageApi-Token"))
	assert.Equal(t, "1", headers.Get("X-Extra"))
	assert.Len(t, headers, 2)
}

func TestLoadCredentials_Errors(t *testing.T) {
	_, err := LoadCredentials(filepath.Join(t.TempDir(), "config.json"))
	assert.True(t, errors.Is(err, ErrCredentialsNotFound), "error = %v", err)

	_, err = LoadCredentials(writeTemp(t, "list.json", `["token"]`))
	assert.Error(t, err)

	_, err = LoadCredentials(writeTemp(t, "number.json", `{"X-StorageApi-Token": 123}`))
	assert.Error(t, err)

	_, err = LoadCredentials(writeTemp(t, "empty-name.json", `{"": "x"}`))
	assert.Error(t, err)
}

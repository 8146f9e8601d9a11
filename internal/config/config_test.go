package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/csvbook/engine"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, "duckdb", cfg.Engine)
	assert.Equal(t, "metadata.db", cfg.Database)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "schemas", cfg.SchemaDir)
	assert.Equal(t, "127.0.0.1:8501", cfg.ListenAddr)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, "10GB", cfg.MemoryLimit)
	assert.Equal(t, int64(10<<30), cfg.MaxUploadBytes)
	assert.Equal(t, 10000, cfg.MaxResultRows)
	assert.Equal(t, 10, cfg.PreviewRows)
	assert.True(t, cfg.AutoScan)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_LoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "csvbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: sqlite\ndata_dir: /srv/csv\nauto_scan: false\npreview_rows: 5\n"), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, "sqlite", cfg.Engine)
	assert.Equal(t, "/srv/csv", cfg.DataDir)
	assert.False(t, cfg.AutoScan)
	assert.Equal(t, 5, cfg.PreviewRows)
	// keys absent from the file keep their defaults
	assert.Equal(t, "schemas", cfg.SchemaDir)
	assert.Equal(t, 10000, cfg.MaxResultRows)

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		err := Default().LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed file", func(t *testing.T) {
		t.Parallel()
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("threads: [1, 2"), 0o600))
		err := Default().LoadFile(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "csvbook.yaml")
	cfg := Default()
	cfg.Engine = "sqlite"
	cfg.CORSAllowedOrigins = []string{"http://localhost:3000"}
	require.NoError(t, cfg.Save(path))

	loaded := &Config{}
	require.NoError(t, loaded.LoadFile(path))
	assert.Equal(t, cfg, loaded)
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"CSVBOOK_ENGINE":               "sqlite",
		"CSVBOOK_DATA_DIR":             " incoming ",
		"CSVBOOK_THREADS":              "8",
		"CSVBOOK_MAX_UPLOAD_BYTES":     "1024",
		"CSVBOOK_AUTO_SCAN":            "false",
		"CSVBOOK_CORS_ALLOWED_ORIGINS": "http://a.test, ,http://b.test",
		"CSVBOOK_SEQ_URL":              "http://localhost:5341",
		"DATA_DIR":                     "ignored",
	}))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Engine)
	assert.Equal(t, "incoming", cfg.DataDir)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.False(t, cfg.AutoScan)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "http://localhost:5341", cfg.SeqURL)
	assert.Equal(t, "schemas", cfg.SchemaDir)

	t.Run("invalid numbers are reported", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		err := cfg.ApplyEnv(envMap(map[string]string{
			"CSVBOOK_THREADS":   "many",
			"CSVBOOK_AUTO_SCAN": "maybe",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CSVBOOK_THREADS")
		assert.Contains(t, err.Error(), "CSVBOOK_AUTO_SCAN")
		assert.Equal(t, 4, cfg.Threads)
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csvbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: sqlite\nlisten_addr: :9000\n"), 0o600))
	t.Setenv("CSVBOOK_LISTEN_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Engine)
	assert.Equal(t, ":9100", cfg.ListenAddr)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "duckdb", cfg.Engine)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "json logs", mutate: func(c *Config) { c.LogFormat = "JSON" }},
		{name: "unknown engine", mutate: func(c *Config) { c.Engine = "postgres" }, wantErr: true},
		{name: "unknown log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "negative rows", mutate: func(c *Config) { c.MaxResultRows = -1 }, wantErr: true},
		{name: "explicit origin", mutate: func(c *Config) { c.CORSAllowedOrigins = []string{"http://localhost:3000"} }},
		{name: "wildcard origin", mutate: func(c *Config) { c.CORSAllowedOrigins = []string{"*"} }, wantErr: true},
		{name: "wildcard subdomain", mutate: func(c *Config) { c.CORSAllowedOrigins = []string{"https://*.example.com"} }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestConfig_SlogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}

func TestConfig_Builder(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Engine = "sqlite"
	cfg.Database = ""
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.SchemaDir = filepath.Join(t.TempDir(), "schemas")

	b, err := cfg.Builder(nil)
	require.NoError(t, err)
	ws, err := b.Open(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	assert.Equal(t, cfg.DataDir, ws.DataDir())

	cfg.Engine = "nope"
	_, err = cfg.Builder(nil)
	assert.ErrorIs(t, err, engine.ErrUnknownEngine)
}

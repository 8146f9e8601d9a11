// Package config holds the csvbook settings and their loading from a YAML
// file and CSVBOOK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nao1215/csvbook"
	"github.com/nao1215/csvbook/engine"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "CSVBOOK_"

// DefaultListenAddr serves the API on the loopback interface only.
const DefaultListenAddr = "127.0.0.1:8501"

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds the workspace, server and logging settings.
type Config struct {
	Engine         string `yaml:"engine"`
	Database       string `yaml:"database"`
	DataDir        string `yaml:"data_dir"`
	SchemaDir      string `yaml:"schema_dir"`
	Threads        int    `yaml:"threads"`
	MemoryLimit    string `yaml:"memory_limit"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	MaxResultRows  int    `yaml:"max_result_rows"`
	PreviewRows    int    `yaml:"preview_rows"`
	AutoScan       bool   `yaml:"auto_scan"`

	ListenAddr string `yaml:"listen_addr"`
	// CORSAllowedOrigins lists the browser origins allowed to call the API
	// with the session cookie. Empty serves same-origin requests only.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text or json
	SeqURL    string `yaml:"seq_url"`    // optional Seq server receiving logs
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Engine:         string(engine.KindDuckDB),
		Database:       csvbook.DefaultDatabasePath,
		DataDir:        csvbook.DefaultDataDir,
		SchemaDir:      csvbook.DefaultSchemaDir,
		Threads:        csvbook.DefaultThreads,
		MemoryLimit:    csvbook.DefaultMemoryLimit,
		MaxUploadBytes: csvbook.DefaultMaxUploadBytes,
		MaxResultRows:  csvbook.DefaultMaxResultRows,
		PreviewRows:    csvbook.DefaultPreviewRows,
		AutoScan:       true,
		ListenAddr:     DefaultListenAddr,
		LogLevel:       "info",
		LogFormat:      LogFormatText,
	}
}

// Load returns the defaults overlaid with the YAML file at path (when path is
// not empty) and then with the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in the YAML file at path.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Save writes the settings as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ApplyEnv overlays the non-empty CSVBOOK_* variables returned by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(EnvPrefix + key)) }

	strs := map[string]*string{
		"ENGINE":       &c.Engine,
		"DATABASE":     &c.Database,
		"DATA_DIR":     &c.DataDir,
		"SCHEMA_DIR":   &c.SchemaDir,
		"MEMORY_LIMIT": &c.MemoryLimit,
		"LISTEN_ADDR":  &c.ListenAddr,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_FORMAT":   &c.LogFormat,
		"SEQ_URL":      &c.SeqURL,
	}
	for key, dst := range strs {
		if v := env(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"THREADS":         &c.Threads,
		"MAX_RESULT_ROWS": &c.MaxResultRows,
		"PREVIEW_ROWS":    &c.PreviewRows,
	}
	var errs []error
	for key, dst := range ints {
		v := env(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			continue
		}
		*dst = n
	}

	if v := env("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_UPLOAD_BYTES: %w", EnvPrefix, err))
		} else {
			c.MaxUploadBytes = n
		}
	}
	if v := env("AUTO_SCAN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sAUTO_SCAN: %w", EnvPrefix, err))
		} else {
			c.AutoScan = b
		}
	}
	if v := env("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = SplitList(v)
	}
	return errors.Join(errs...)
}

// SplitList splits a comma separated list, dropping blank items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate reports settings that cannot open a workspace.
func (c *Config) Validate() error {
	if _, err := engine.ParseKind(c.Engine); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("unsupported log format %q: use %q or %q", c.LogFormat, LogFormatText, LogFormatJSON)
	}
	if c.Threads < 0 || c.MaxUploadBytes < 0 || c.MaxResultRows < 0 || c.PreviewRows < 0 {
		return errors.New("numeric limits must not be negative")
	}
	for _, origin := range c.CORSAllowedOrigins {
		if strings.Contains(origin, "*") {
			return fmt.Errorf("CORS origin %q: wildcards are not allowed with the session cookie", origin)
		}
	}
	return nil
}

// SlogLevel maps LogLevel to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Builder returns a workspace builder carrying the settings.
func (c *Config) Builder(logger *slog.Logger) (*csvbook.Builder, error) {
	kind, err := engine.ParseKind(c.Engine)
	if err != nil {
		return nil, err
	}
	return csvbook.NewBuilder().
		WithEngine(kind).
		WithDatabase(c.Database).
		WithDataDir(c.DataDir).
		WithSchemaDir(c.SchemaDir).
		WithThreads(c.Threads).
		WithMemoryLimit(c.MemoryLimit).
		WithMaxUploadBytes(c.MaxUploadBytes).
		WithMaxResultRows(c.MaxResultRows).
		WithPreviewRows(c.PreviewRows).
		WithAutoScan(c.AutoScan).
		WithLogger(logger), nil
}

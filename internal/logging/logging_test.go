package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger_Console(t *testing.T) {
	t.Parallel()

	t.Run("text", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, closeFn := SetupLogger(&buf, Options{Level: slog.LevelInfo, Format: "text"})
		defer closeFn()

		logger.Debug("hidden")
		logger.Info("table ingested", "event", "ingest", "table", "sales")
		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "event=ingest")
		assert.Contains(t, out, "table=sales")
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		logger, closeFn := SetupLogger(&buf, Options{Level: slog.LevelDebug, Format: "JSON"})
		defer closeFn()

		logger.Debug("scan", "event", "scan", "tables", 2)
		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "scan", rec["msg"])
		assert.Equal(t, "DEBUG", rec["level"])
		assert.InDelta(t, 2, rec["tables"], 0)
	})
}

func TestMultiHandler(t *testing.T) {
	t.Parallel()

	var info, warn bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h).With("workspace", "main").WithGroup("ingest")
	logger.Info("loaded", "table", "sales")
	logger.Warn("index failed", "column", "id")

	assert.Contains(t, info.String(), "workspace=main")
	assert.Contains(t, info.String(), "ingest.table=sales")
	assert.Contains(t, info.String(), "ingest.column=id")
	assert.NotContains(t, warn.String(), "loaded")
	assert.Contains(t, warn.String(), "index failed")
	assert.Contains(t, warn.String(), "workspace=main")
}

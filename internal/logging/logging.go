// Package logging builds the slog logger used by the csvbook commands.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	slogseq "github.com/sokkalf/slog-seq"
)

// Options selects the handlers SetupLogger builds.
type Options struct {
	// Level is the minimum record level.
	Level slog.Level
	// Format is "text" or "json".
	Format string
	// SeqURL, when set, also ships records to a Seq server.
	SeqURL string
	// AddSource records the caller position.
	AddSource bool
}

// multiHandler forwards log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// consoleHandler returns the text or JSON handler writing to w.
func consoleHandler(w io.Writer, opts Options) slog.Handler {
	ho := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
	if strings.EqualFold(opts.Format, "json") {
		return slog.NewJSONHandler(w, ho)
	}
	return slog.NewTextHandler(w, ho)
}

// SetupLogger returns a logger writing to w and, when opts.SeqURL is set, to
// Seq as well. The returned function flushes and closes the Seq handler.
func SetupLogger(w io.Writer, opts Options) (*slog.Logger, func()) {
	console := consoleHandler(w, opts)
	if opts.SeqURL == "" {
		return slog.New(console), func() {}
	}

	_, seqHandler := slogseq.NewLogger(
		opts.SeqURL,
		slogseq.WithBatchSize(50),
		slogseq.WithFlushInterval(500*time.Millisecond),
		slogseq.WithHandlerOptions(&slog.HandlerOptions{
			Level:     opts.Level,
			AddSource: opts.AddSource,
		}),
	)
	if seqHandler == nil {
		return slog.New(console), func() {}
	}

	logger := slog.New(&multiHandler{handlers: []slog.Handler{console, seqHandler}})
	return logger, func() { seqHandler.Close() }
}

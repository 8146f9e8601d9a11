package csvbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/engine"
)

const snapshotExt = ".json"

// Snapshotter records the schema of tables as append-only JSON files named
// "{table}_{YYYYMMDD_HHMMSS}.json" in a schema directory.
type Snapshotter struct {
	engine engine.Engine
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewSnapshotter returns a Snapshotter writing into dir.
func NewSnapshotter(eng engine.Engine, dir string, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Snapshotter{engine: eng, dir: dir, logger: logger, now: time.Now}
}

// Dir returns the schema directory.
func (s *Snapshotter) Dir() string { return s.dir }

// Snapshot records the current columns of table and returns the snapshot id.
// It never fails the caller: errors are logged as snapshot warnings and the
// empty id is returned.
func (s *Snapshotter) Snapshot(ctx context.Context, table string) string {
	snap, err := s.take(ctx, table)
	if err != nil {
		s.logger.WarnContext(ctx, "schema snapshot failed",
			"event", "snapshot_warning", "table", table, "error", err)
		return ""
	}
	s.logger.DebugContext(ctx, "schema snapshot saved", "table", table, "snapshot", snap.ID)
	return snap.ID
}

func (s *Snapshotter) take(ctx context.Context, table string) (*model.SchemaSnapshot, error) {
	columns, err := s.engine.Describe(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, err
	}

	created := s.now()
	snap := &model.SchemaSnapshot{Table: table, Columns: columns, CreatedAt: created}
	base := model.SnapshotID(table, created)

	// O_EXCL guarantees an existing snapshot is never overwritten.
	for n := 0; ; n++ {
		snap.ID = base
		if n > 0 {
			snap.ID = base + "_" + strconv.Itoa(n)
		}
		f, err := os.OpenFile(s.path(snap.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return snap, writeSnapshot(f, snap)
	}
}

// writeSnapshot encodes snap into f and closes it. On failure the file is
// removed so no partial snapshot is left behind.
func writeSnapshot(f *os.File, snap *model.SchemaSnapshot) error {
	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	err := enc.Encode(snap)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
	}
	return err
}

func (s *Snapshotter) path(id string) string {
	return filepath.Join(s.dir, id+snapshotExt)
}

// List returns snapshot ids, newest first. A non-empty table restricts the
// listing to that table. A missing schema directory lists nothing.
func (s *Snapshotter) List(table string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	type entry struct {
		id string
		at time.Time
		n  int
	}
	var found []entry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), snapshotExt)
		t, at, n, ok := model.ParseSnapshotID(id)
		if !ok || (table != "" && t != table) {
			continue
		}
		found = append(found, entry{id: id, at: at, n: n})
	}

	slices.SortFunc(found, func(a, b entry) int {
		if c := b.at.Compare(a.at); c != 0 {
			return c
		}
		if a.n != b.n {
			return b.n - a.n
		}
		return strings.Compare(b.id, a.id)
	})

	ids := make([]string, len(found))
	for i, e := range found {
		ids[i] = e.id
	}
	return ids, nil
}

// Load reads the snapshot with the given id.
func (s *Snapshotter) Load(id string) (*model.SchemaSnapshot, error) {
	id = strings.TrimSuffix(id, snapshotExt)
	if _, _, _, ok := model.ParseSnapshotID(id); !ok || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var snap model.SchemaSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, NewErrorContext("load snapshot", s.path(id)).Error(err)
	}
	return &snap, nil
}

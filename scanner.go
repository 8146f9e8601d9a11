package csvbook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nao1215/csvbook/domain/model"
)

// ScanAndIngest ingests every "*.csv" file directly inside dir whose derived
// table name is not yet registered, in file name order, and returns the new
// table names.
//
// The scan is additive-idempotent: existing tables are never replaced, so a
// second scan of an unchanged folder ingests nothing. A missing folder yields
// an empty result. A file that fails is logged and skipped; the failures are
// returned joined alongside the tables that were ingested.
func (p *Pipeline) ScanAndIngest(ctx context.Context, dir string) ([]string, error) {
	files, err := collectCSVFiles(dir)
	if err != nil {
		return []string{}, err
	}

	loaded := []string{}
	var errs []error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		table, err := model.TableFromFilePath(path)
		if err != nil {
			p.logger.WarnContext(ctx, "skipping file", "event", "scan_skip", "path", path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		exists, err := p.engine.TableExists(ctx, table)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if exists {
			p.logger.DebugContext(ctx, "table already registered", "table", table, "path", path)
			continue
		}

		if _, err := p.Ingest(ctx, path); err != nil {
			p.logger.WarnContext(ctx, "auto-ingest failed", "event", "scan_error", "path", path, "error", err)
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, table)
	}
	return loaded, errors.Join(errs...)
}

// collectCSVFiles lists the plain CSV files directly inside dir, sorted by
// name. Hidden files and subdirectories are skipped.
func collectCSVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !isValidFileName(e.Name()) || !model.IsPlainCSV(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dbsmedya/goextract/internal/logger"
	"github.com/dbsmedya/goextract/internal/types"
)

// FileExt is the suffix of per-kind output files.
const FileExt = ".json"

// FileSink writes each kind to <dir>/<Kind>.json as a JSON list of flat
// objects.
type FileSink struct {
	dir    string
	logger *logger.Logger
}

// NewFileSink creates a FileSink rooted at dir, creating it if needed.
func NewFileSink(dir string, log *logger.Logger) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{dir: dir, logger: log}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Path returns the output file of kind.
func (s *FileSink) Path(kind string) string {
	return filepath.Join(s.dir, kind+FileExt)
}

// Write implements Sink.
func (s *FileSink) Write(ctx context.Context, kind string, records []*types.Record, mode Mode) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{Kind: kind, Mode: mode}

	var existing []*types.Record
	if mode == Additive {
		var err error
		existing, err = s.Load(ctx, kind)
		if err != nil {
			return res, err
		}
	}

	seen := make(map[string]bool, len(existing)+len(records))
	dedupe(existing, seen)
	added := dedupe(records, seen)

	if mode == Additive && len(added) == 0 {
		res.Total = len(existing)
		res.Skipped = true
		s.logger.Debugw("No new records, output left untouched", "kind", kind)
		return res, nil
	}

	all := append(existing, added...)
	if err := s.writeFile(kind, all); err != nil {
		return res, err
	}
	res.Total = len(all)
	res.Added = len(added)
	s.logger.Debugw("Wrote output", "kind", kind, "mode", mode.String(), "total", res.Total, "added", res.Added)
	return res, nil
}

// writeFile replaces the kind's file atomically through a temp file rename.
func (s *FileSink) writeFile(kind string, records []*types.Record) error {
	if records == nil {
		records = []*types.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+kind+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", kind, err)
	}
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", kind, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(kind)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.Path(kind), err)
	}
	return nil
}

// Load implements Source. A kind never written loads as empty.
func (s *FileSink) Load(ctx context.Context, kind string) ([]*types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(kind))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", kind, err)
	}
	var records []*types.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", s.Path(kind), err)
	}
	return records, nil
}

// Kinds implements Source.
func (s *FileSink) Kinds(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list output directory: %w", err)
	}
	var kinds []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, FileExt) {
			continue
		}
		kinds = append(kinds, strings.TrimSuffix(name, FileExt))
	}
	sort.Strings(kinds)
	return kinds, nil
}

// Close implements Sink.
func (s *FileSink) Close() error {
	return nil
}

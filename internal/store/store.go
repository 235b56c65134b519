package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/couchcryptid/accident-risk-service/internal/domain"
)

// Store is the in-memory accident table backed by a CSV file. Reads share an
// immutable snapshot; appends persist the full table before becoming visible.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	records []domain.AccidentRecord
}

// Open loads the backing file at path. A missing or malformed file is an
// ErrStorage naming the path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: data file %s not found", domain.ErrStorage, path)
		}
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrStorage, path, err)
	}
	defer f.Close()

	records, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", domain.ErrStorage, path, err)
	}

	logger.Info("record store loaded", "path", path, "records", len(records))
	return &Store{path: path, logger: logger, records: records}, nil
}

// New creates a store over an existing snapshot without reading from disk.
// Appends still rewrite path.
func New(path string, records []domain.AccidentRecord, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger, records: records}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Records returns the current snapshot. Callers must not modify it.
func (s *Store) Records() []domain.AccidentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[:len(s.records):len(s.records)]
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Append validates rec, rewrites the backing file with it included, and only
// then publishes it to readers. On any failure the store is unchanged.
func (s *Store) Append(ctx context.Context, rec domain.AccidentRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	next := make([]domain.AccidentRecord, len(s.records), len(s.records)+1)
	copy(next, s.records)
	next = append(next, rec)

	if err := writeFile(s.path, next); err != nil {
		return fmt.Errorf("%w: persist %s: %w", domain.ErrStorage, s.path, err)
	}
	s.records = next

	s.logger.Debug("record appended", "place", rec.PlaceName, "records", len(next))
	return nil
}

// Save rewrites the backing file from the current snapshot.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFile(s.path, s.records); err != nil {
		return fmt.Errorf("%w: persist %s: %w", domain.ErrStorage, s.path, err)
	}
	return nil
}

// Places returns the distinct place names, sorted.
func (s *Store) Places() []string {
	seen := make(map[string]struct{})
	for _, rec := range s.Records() {
		seen[rec.PlaceName] = struct{}{}
	}
	places := make([]string, 0, len(seen))
	for p := range seen {
		places = append(places, p)
	}
	sort.Strings(places)
	return places
}

// writeFile writes records to a temp file next to path and renames it into
// place so readers of the file never observe a partial table.
func writeFile(path string, records []domain.AccidentRecord) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+"-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := Encode(tmp, records); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

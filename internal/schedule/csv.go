// Package schedule implements the file-backed schedule source: a two-column
// CSV of "YYYY-MM-DD HH:MM:SS" timestamps and text to speak.
package schedule

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"emobridge/internal/types"
)

// Store is the contract shared by every schedule source. Load re-reads the
// source on every call; it never caches.
type Store interface {
	Load(ctx context.Context) (LoadResult, error)
	Append(ctx context.Context, entry types.ScheduleEntry) error
}

// LoadResult is one snapshot of the source.
type LoadResult struct {
	Entries      []types.ScheduleEntry
	Skipped      int
	Bootstrapped bool
}

// CSVConfig configures a CSVStore.
type CSVConfig struct {
	Path         string
	Location     *time.Location
	FirstOffset  time.Duration
	SecondOffset time.Duration
	Clock        types.Clock
	Logger       *slog.Logger
}

// CSVStore reads and appends to a CSV schedule file.
type CSVStore struct {
	path         string
	loc          *time.Location
	firstOffset  time.Duration
	secondOffset time.Duration
	clock        types.Clock
	logger       *slog.Logger

	// mu serializes writers (bootstrap, Append) within this process.
	mu sync.Mutex
}

// NewCSVStore creates a store for the file at cfg.Path. The file is not
// touched until the first Load.
func NewCSVStore(cfg CSVConfig) *CSVStore {
	s := &CSVStore{
		path:         cfg.Path,
		loc:          cfg.Location,
		firstOffset:  cfg.FirstOffset,
		secondOffset: cfg.SecondOffset,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.firstOffset <= 0 {
		s.firstOffset = 30 * time.Second
	}
	if s.secondOffset <= 0 {
		s.secondOffset = 60 * time.Second
	}
	return s
}

// Path returns the file the store reads.
func (s *CSVStore) Path() string { return s.path }

// Load parses the whole file. A missing file is bootstrapped with the two
// example entries and then read back. Malformed rows are skipped with a
// warning; only an unreadable source is an error.
func (s *CSVStore) Load(ctx context.Context) (LoadResult, error) {
	var res LoadResult

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.bootstrap(); err != nil {
			return res, err
		}
		res.Bootstrapped = true
		f, err = os.Open(s.path)
	}
	if err != nil {
		return res, fmt.Errorf("schedule: open %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	r.LazyQuotes = true

	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if line == 1 {
			// The first record is the header, whether or not it parses.
			continue
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				res.Skipped++
				s.logger.Warn("skipping unreadable schedule row", "path", s.path, "row", line, "error", err)
				continue
			}
			return res, fmt.Errorf("schedule: read %s: %w", s.path, err)
		}
		if isBlank(record) {
			continue
		}

		entry, err := types.ParseScheduleRow(record, s.loc)
		if err != nil {
			res.Skipped++
			s.logger.Warn("skipping malformed schedule row", "path", s.path, "row", line, "error", err)
			continue
		}
		res.Entries = append(res.Entries, entry)
	}

	return res, nil
}

// Append adds one row at the end of the file, creating it with a header when
// absent. Existing rows are never rewritten.
func (s *CSVStore) Append(ctx context.Context, entry types.ScheduleEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	needHeader := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("schedule: open %s for append: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	if needHeader {
		_ = w.Write(types.ScheduleHeader)
	}
	_ = w.Write(types.FormatScheduleRow(entry.In(s.loc)))
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("schedule: append to %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("schedule: close %s: %w", s.path, err)
	}

	s.logger.Info("schedule row appended", "path", s.path, "trigger_at", entry.TriggerAt.Format(types.ScheduleTimeLayout))
	return nil
}

// bootstrap writes the header and the two example rows. The file is written
// to a temp name and linked into place so a concurrent bootstrap never
// clobbers rows another writer already produced.
func (s *CSVStore) bootstrap() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	}

	now := s.clock.Now().In(s.loc)
	entries := types.BootstrapEntries(now, s.firstOffset, s.secondOffset)

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".schedule-*.csv")
	if err != nil {
		return fmt.Errorf("schedule: bootstrap %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	_ = w.Write(types.ScheduleHeader)
	for _, e := range entries {
		_ = w.Write(types.FormatScheduleRow(e))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("schedule: bootstrap %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("schedule: bootstrap %s: %w", s.path, err)
	}

	if err := os.Link(tmpName, s.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("schedule: bootstrap %s: %w", s.path, err)
	}

	s.logger.Info("schedule source bootstrapped", "path", s.path, "entries", len(entries))
	return nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if f != "" {
			return false
		}
	}
	return true
}

var _ Store = (*CSVStore)(nil)

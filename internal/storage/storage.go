package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"bracket_trader/internal/models"
)

const (
	// CurrentVersion is the journal schema version written by this build.
	CurrentVersion = "1.0"
	// MaxRecords is how many records of each kind are kept.
	MaxRecords = 30
)

// Journal is the on-disk record of recent runs. The broker stays the source of
// truth; the journal exists for operators and for the summary command.
type Journal struct {
	path string
	log  *slog.Logger
	mu   sync.Mutex
	now  func() time.Time
}

func NewJournal(path string, log *slog.Logger) *Journal {
	return &Journal{path: path, log: log, now: time.Now}
}

// Load reads the journal from disk. A missing file yields an empty journal.
func (j *Journal) Load() (models.SessionState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load()
}

func (j *Journal) load() (models.SessionState, error) {
	var s models.SessionState

	b, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return models.SessionState{Version: CurrentVersion}, nil
	}
	if err != nil {
		return s, err
	}

	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", j.path, err)
	}

	stamped, err := checkVersion(&s)
	if err != nil {
		return s, fmt.Errorf("%s: %w", j.path, err)
	}
	if stamped {
		j.log.Info("journal version stamped", "version", s.Version, "path", j.path)
		if err := j.save(s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// checkVersion stamps an unversioned journal with CurrentVersion and refuses one
// written by a newer build, whose records this build may misread. Returns true if
// the state needs to be saved.
func checkVersion(s *models.SessionState) (bool, error) {
	if s.Version == "" {
		s.Version = CurrentVersion
		return true, nil
	}
	cmp, err := compareVersions(s.Version, CurrentVersion)
	if err != nil {
		return false, err
	}
	if cmp > 0 {
		return false, fmt.Errorf("journal version %s is newer than supported %s", s.Version, CurrentVersion)
	}
	return false, nil
}

// compareVersions compares dotted numeric versions ("1.10" > "1.9").
func compareVersions(a, b string) (int, error) {
	pa, err := versionParts(a)
	if err != nil {
		return 0, err
	}
	pb, err := versionParts(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, nil
}

func versionParts(v string) ([]int, error) {
	fields := strings.Split(v, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid journal version %q", v)
		}
		parts[i] = n
	}
	return parts, nil
}

// RecordEntry appends an Entry run and trims the oldest records.
func (j *Journal) RecordEntry(rec models.EntryRecord) error {
	return j.update(func(s *models.SessionState) {
		s.Entries = trim(append(s.Entries, rec))
	})
}

// RecordReconciliation appends a Reconciliation run and trims the oldest records.
func (j *Journal) RecordReconciliation(rec models.ReconcileRecord) error {
	return j.update(func(s *models.SessionState) {
		s.Reconciliations = trim(append(s.Reconciliations, rec))
	})
}

func (j *Journal) update(fn func(*models.SessionState)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	s, err := j.load()
	if err != nil {
		return err
	}
	fn(&s)
	s.Version = CurrentVersion
	s.LastSync = j.now().UTC().Format(time.RFC3339)
	return j.save(s)
}

func trim[T any](recs []T) []T {
	if len(recs) <= MaxRecords {
		return recs
	}
	return recs[len(recs)-MaxRecords:]
}

// save writes the state using an atomic write pattern.
// 1. Write to a temporary file.
// 2. Sync to ensure data is on disk.
// 3. Rename temporary file to destination (atomic operation).
func (j *Journal) save(s models.SessionState) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}

	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	// Same directory so the rename stays on one filesystem.
	tmpFile := j.path + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("write temp journal: %w", err)
	}
	// Force sync to disk to prevent data loss on power failure before rename
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp journal: %w", err)
	}
	// Close explicitly before renaming (essential on Windows)
	f.Close()

	if err := os.Rename(tmpFile, j.path); err != nil {
		return fmt.Errorf("replace journal (atomic rename): %w", err)
	}
	return nil
}

package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bracket_trader/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_StampsUnversionedJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_state.json")
	raw := `{
		"entries": [
			{"run_id": "e1", "session_date": "2025-03-14", "at": "2025-03-14T13:31:00Z", "ticker": "TQQQ",
			 "state": "DONE", "liquidity": "10000", "price": "100", "quantity": "100"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := NewJournal(path, discardLogger()).Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, s.Version)
	require.Len(t, s.Entries, 1)
	assert.True(t, s.Entries[0].Quantity.Equal(decimal.NewFromInt(100)))

	// Verify persistence (Load again)
	s2, err := NewJournal(path, discardLogger()).Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, s2.Version)
}

func TestLoad_RefusesNewerJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": "10.0"}`), 0o644))

	_, err := NewJournal(path, discardLogger()).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer")
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1", "1.0", 0},
		{"0.9", "1.0", -1},
		{"10.0", "2.1", 1},
		{"1.10", "1.9", 1},
	}
	for _, tt := range tests {
		got, err := compareVersions(tt.a, tt.b)
		require.NoError(t, err, "%s vs %s", tt.a, tt.b)
		assert.Equal(t, tt.want, got, "%s vs %s", tt.a, tt.b)
	}

	_, err := compareVersions("v1", "1.0")
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	s, err := NewJournal(filepath.Join(t.TempDir(), "none.json"), discardLogger()).Load()
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, s.Version)
	assert.Empty(t, s.Entries)
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewJournal(path, discardLogger()).Load()
	assert.Error(t, err)
}

func TestRecord_KeepsMostRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session_state.json")
	j := NewJournal(path, discardLogger())
	j.now = func() time.Time { return time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC) }

	for i := 0; i < MaxRecords+5; i++ {
		require.NoError(t, j.RecordEntry(models.EntryRecord{RunID: fmt.Sprintf("e%d", i), SessionDate: "2025-03-14"}))
	}
	require.NoError(t, j.RecordReconciliation(models.ReconcileRecord{RunID: "r", SessionDate: "2025-03-14", Decision: "RECONCILED"}))

	s, err := j.Load()
	require.NoError(t, err)
	require.Len(t, s.Entries, MaxRecords)
	assert.Equal(t, "e5", s.Entries[0].RunID)
	assert.Equal(t, fmt.Sprintf("e%d", MaxRecords+4), s.Entries[MaxRecords-1].RunID)
	require.Len(t, s.Reconciliations, 1)
	assert.Equal(t, "2025-03-14T20:00:00Z", s.LastSync)

	last, ok := s.LastEntry("2025-03-14")
	require.True(t, ok)
	assert.Equal(t, s.Entries[MaxRecords-1].RunID, last.RunID)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file left behind")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package store_test

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/logger"
	"codeberg.org/teralab/teractl/internal/runner"
	"codeberg.org/teralab/teractl/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ runner.Sink = (*store.Store)(nil)

func newStore(t *testing.T, batch int, flush time.Duration) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.db")
	cfg := store.DefaultConfig(path)
	cfg.BatchSize = batch
	cfg.FlushInterval = flush

	s, err := store.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })
	return s, path
}

func atom(t *testing.T, index int) *data.Atom {
	t.Helper()
	wf, err := data.NewWaveform([]float64{0, 1, 2}, []float64{0.5, float64(index), -0.5})
	require.NoError(t, err)
	return &data.Atom{
		Index:     index,
		Timestamp: time.Date(2026, 5, 4, 10, 0, index, 0, time.UTC),
		Status: map[string]any{
			"Metadata":   map[string]any{"axis": "count", "value": float64(index)},
			"THz System": map[string]any{"tac_time_s": math.NaN(), "channel": 1},
		},
		Payload: wf,
	}
}

func TestStoreRun(t *testing.T) {
	s, _ := newStore(t, 2, time.Hour)

	run := data.NewRun(data.Metadata{Operator: "op", Sample: "InSb", Label: "L1", Comment: "c"},
		map[string]any{"axis": "count", "start": 1.0, "stop": 3.0})
	require.NoError(t, s.Open(run))

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Write(run, atom(t, i)))
	}

	stored, err := s.Atoms(run.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "third atom still buffered")

	run.Finalize(data.RunCompleted, nil)
	require.NoError(t, s.Close(run))

	stored, err = s.Atoms(run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, a := range stored {
		assert.Equal(t, i+1, a.Index)
		assert.Equal(t, []float64{0, 1, 2}, a.Payload["time"])
		assert.Equal(t, float64(i+1), a.Payload["signal"][1])
	}
	thz, ok := stored[0].Status["THz System"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, thz["tac_time_s"])
	assert.Equal(t, 1.0, thz["channel"])
	assert.True(t, stored[2].Timestamp.Equal(time.Date(2026, 5, 4, 10, 0, 3, 0, time.UTC)))

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, data.RunCompleted, runs[0].Status)
	assert.Equal(t, "InSb", runs[0].Metadata.Sample)
	assert.Equal(t, "count", runs[0].Sweep["axis"])
	assert.Empty(t, runs[0].Error)
	assert.False(t, runs[0].FinishedAt.IsZero())
}

func TestStoreFailedRunKeepsError(t *testing.T) {
	s, _ := newStore(t, 8, time.Hour)

	run := data.NewRun(data.Metadata{}, map[string]any{})
	require.NoError(t, s.Open(run))
	run.Finalize(data.RunFailed, errors.New().New(errors.ErrTimeout))
	require.NoError(t, s.Close(run))

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, data.RunFailed, runs[0].Status)
	assert.Equal(t, "Operation timed out", runs[0].Error)
}

func TestStoreUnknownRun(t *testing.T) {
	s, _ := newStore(t, 8, time.Hour)
	run := data.NewRun(data.Metadata{}, nil)

	err := s.Write(run, atom(t, 1))
	assert.True(t, errors.HasCode(err, store.ErrUnknownRun))
	err = s.Close(run)
	assert.True(t, errors.HasCode(err, store.ErrUnknownRun))
}

func TestStorePeriodicFlush(t *testing.T) {
	s, _ := newStore(t, 100, 20*time.Millisecond)

	run := data.NewRun(data.Metadata{}, map[string]any{"axis": "count"})
	require.NoError(t, s.Open(run))
	require.NoError(t, s.Write(run, atom(t, 1)))

	require.Eventually(t, func() bool {
		stored, err := s.Atoms(run.ID)
		return err == nil && len(stored) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownFlushesAndIsIdempotent(t *testing.T) {
	s, path := newStore(t, 100, time.Hour)

	run := data.NewRun(data.Metadata{}, map[string]any{"axis": "count"})
	require.NoError(t, s.Open(run))
	require.NoError(t, s.Write(run, atom(t, 1)))

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())

	reopened, err := store.New(store.DefaultConfig(path))
	require.NoError(t, err)
	defer reopened.Shutdown()

	stored, err := reopened.Atoms(run.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSchemaMismatchIsBackedUp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg := store.DefaultConfig(path)
	cfg.BackupDir = filepath.Join(dir, "bak")
	s, err := store.New(cfg)
	require.NoError(t, err)
	defer s.Shutdown()

	backups, err := filepath.Glob(filepath.Join(dir, "bak", "runs_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	db, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	version, err := store.GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, store.SchemaVersion, version)

	_ = logger.Component("store-test")
}

func TestConfigValidate(t *testing.T) {
	assert.True(t, errors.HasCode(store.Config{}.Validate(), store.ErrInvalidPath))

	cfg := store.DefaultConfig("x.db")
	cfg.BatchSize = 0
	assert.True(t, errors.HasCode(cfg.Validate(), errors.ErrInvalidConfig))
}

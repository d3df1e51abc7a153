// Package store persists experiment runs and their atoms in SQLite. Atoms
// are buffered and written in batches; a run's atoms are all on disk once
// Close returns for that run.
package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/logger"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type pending struct {
	runID     string
	index     int
	timestamp string
	status    string
	payload   string
}

// RunRecord is a stored run row.
type RunRecord struct {
	ID         uuid.UUID
	CreatedAt  time.Time
	Metadata   data.Metadata
	Sweep      map[string]any
	Status     data.RunStatus
	Error      string
	FinishedAt time.Time
}

// AtomRecord is a stored atom row with its JSON columns decoded.
type AtomRecord struct {
	Index     int
	Timestamp time.Time
	Status    map[string]any
	Payload   map[string][]float64
}

type Store struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config

	mu            sync.Mutex
	buffer        []pending
	open          map[uuid.UUID]struct{}
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Component("store")

	if err := os.MkdirAll(filepath.Dir(cfg.Path), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.Path,
			Error: err.Error(),
		})
	}

	dsn := cfg.Path + "?_journal=WAL&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := ValidateAndUpdateSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.Path).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("Run store initialized")

	s := &Store{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]pending, 0, cfg.BatchSize),
		open:          make(map[uuid.UUID]struct{}),
		flushTicker:   time.NewTicker(cfg.FlushInterval),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go s.flusher()

	return s, nil
}

// Open records a new run.
func (s *Store) Open(run *data.Run) error {
	errFactory := errors.New()

	sweep, err := json.Marshal(data.JSONSafe(run.Sweep))
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(insertRunSQL,
		run.ID.String(),
		run.CreatedAt.Format(time.RFC3339Nano),
		run.CreatedLocal.Format(time.RFC3339Nano),
		run.Metadata.Operator,
		run.Metadata.Sample,
		run.Metadata.Label,
		run.Metadata.Comment,
		string(sweep),
		string(data.RunInProgress),
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageWrite, err)
	}
	s.open[run.ID] = struct{}{}

	s.logger.Debug().Str("run", run.ID.String()).Msg("Run opened")
	return nil
}

// Write buffers one atom, flushing when the batch is full.
func (s *Store) Write(run *data.Run, atom *data.Atom) error {
	errFactory := errors.New()

	status, err := json.Marshal(data.JSONSafe(atom.Status))
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}
	var arrays map[string][]float64
	if atom.Payload != nil {
		arrays = atom.Payload.Arrays()
	}
	payload, err := json.Marshal(arrays)
	if err != nil {
		return errFactory.Wrap(ErrEncodeFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[run.ID]; !ok {
		return errFactory.WithData(ErrUnknownRun, run.ID.String())
	}

	s.buffer = append(s.buffer, pending{
		runID:     run.ID.String(),
		index:     atom.Index,
		timestamp: atom.Timestamp.Format(time.RFC3339Nano),
		status:    string(status),
		payload:   string(payload),
	})

	if len(s.buffer) >= s.cfg.BatchSize {
		return s.flush()
	}
	return nil
}

// Close flushes the run's atoms and records its terminal status.
func (s *Store) Close(run *data.Run) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[run.ID]; !ok {
		return errFactory.WithData(ErrUnknownRun, run.ID.String())
	}
	if err := s.flush(); err != nil {
		return err
	}

	var errText sql.NullString
	if err := run.Err(); err != nil {
		errText = sql.NullString{String: err.Error(), Valid: true}
	}
	_, err := s.db.Exec(finishRunSQL,
		string(run.Status()),
		errText,
		run.FinishedAt().Format(time.RFC3339Nano),
		run.ID.String(),
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageWrite, err)
	}
	delete(s.open, run.ID)

	s.logger.Info().
		Str("run", run.ID.String()).
		Str("status", string(run.Status())).
		Msg("Run stored")
	return nil
}

// Shutdown stops the flusher, writes what is buffered and closes the
// database.
func (s *Store) Shutdown() error {
	var closeErr error
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		s.flushTicker.Stop()
		<-s.flushDoneChan

		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
			s.db.Close()
			return
		}

		if err := s.db.Close(); err != nil {
			closeErr = errors.New().Wrap(ErrStorageClose, err)
			return
		}
		s.logger.Info().Msg("Run store closed gracefully")
	})
	return closeErr
}

func (s *Store) flusher() {
	defer close(s.flushDoneChan)

	for {
		select {
		case <-s.flushTicker.C:
			s.mu.Lock()
			if err := s.flush(); err != nil {
				s.logger.Error().Err(err).Msg("Periodic flush failed")
			}
			s.mu.Unlock()
		case <-s.shutdownChan:
			s.mu.Lock()
			if err := s.flush(); err != nil {
				s.logger.Error().Err(err).Msg("Final flush failed")
			}
			s.mu.Unlock()
			return
		}
	}
}

// flush writes the buffer in one transaction. The caller holds s.mu.
func (s *Store) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := s.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertAtomSQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, p := range s.buffer {
		if _, err := stmt.Exec(p.runID, p.index, p.timestamp, p.status, p.payload); err != nil {
			if err := tx.Rollback(); err != nil {
				s.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	s.logger.Debug().Int("atoms", len(s.buffer)).Msg("Flushed atoms to database")
	s.buffer = s.buffer[:0]

	return nil
}

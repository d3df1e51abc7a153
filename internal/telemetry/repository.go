package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

type sqliteRepository struct {
	db *sql.DB
	mu sync.Mutex
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	logger.Debug().Msgf("Initializing telemetry repository at: %s", cfg.DBPath)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &sqliteRepository{
		db: db,
	}, nil
}

func (r *sqliteRepository) Store(ctx context.Context, samples []Sample) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO telemetry (run_id, idx, timestamp, key, value)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(run_id, idx, key) DO UPDATE SET
            timestamp = excluded.timestamp,
            value = excluded.value
    `)
	if err != nil {
		tx.Rollback()
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx, s.RunID, s.Index, s.Timestamp.Format(time.RFC3339Nano), s.Key, s.Value); err != nil {
			tx.Rollback()
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	return nil
}

func (r *sqliteRepository) Series(ctx context.Context, key string) ([]Point, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `
        SELECT run_id, idx, timestamp, value
        FROM telemetry
        WHERE key = ?
        ORDER BY timestamp, idx`, key)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var (
			p  Point
			ts string
		)
		if err := rows.Scan(&p.RunID, &p.Index, &ts, &p.Value); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		p.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	return out, nil
}

func (r *sqliteRepository) Keys(ctx context.Context) ([]string, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT key FROM telemetry ORDER BY key`)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

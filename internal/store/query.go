package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
	"github.com/google/uuid"
)

// Runs returns every stored run, oldest first.
func (s *Store) Runs() ([]RunRecord, error) {
	errFactory := errors.New()

	rows, err := s.db.Query(`
        SELECT id, created_at, operator, sample, label, comment,
               sweep, status, error, finished_at
        FROM runs
        ORDER BY created_at`)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			id, createdAt, sweep, status string
			errText, finishedAt          sql.NullString
			rec                          RunRecord
		)
		if err := rows.Scan(&id, &createdAt,
			&rec.Metadata.Operator, &rec.Metadata.Sample, &rec.Metadata.Label, &rec.Metadata.Comment,
			&sweep, &status, &errText, &finishedAt); err != nil {
			return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
		}

		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if err := json.Unmarshal([]byte(sweep), &rec.Sweep); err != nil {
			return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
		}
		rec.Status = data.RunStatus(status)
		rec.Error = errText.String
		if finishedAt.Valid {
			rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt.String)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	return out, nil
}

// Atoms returns the stored atoms of a run in index order. Buffered atoms
// not yet flushed are not included.
func (s *Store) Atoms(runID uuid.UUID) ([]AtomRecord, error) {
	errFactory := errors.New()

	rows, err := s.db.Query(`
        SELECT idx, timestamp, status, payload
        FROM atoms
        WHERE run_id = ?
        ORDER BY idx`, runID.String())
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	defer rows.Close()

	var out []AtomRecord
	for rows.Next() {
		var (
			ts, status, payload string
			rec                 AtomRecord
		)
		if err := rows.Scan(&rec.Index, &ts, &status, &payload); err != nil {
			return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if err := json.Unmarshal([]byte(status), &rec.Status); err != nil {
			return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(errors.ErrOperationFailed, err)
	}
	return out, nil
}

package data

import (
	"sync"
	"time"

	"codeberg.org/teralab/teractl/internal/errors"
	"github.com/google/uuid"
)

// RunStatus is the terminal state of an experiment run.
type RunStatus string

const (
	RunInProgress RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunAborted    RunStatus = "aborted"
	RunFailed     RunStatus = "failed"
)

// Metadata describes who ran what.
type Metadata struct {
	Operator string `json:"operator"`
	Sample   string `json:"sample"`
	Label    string `json:"label"`
	Comment  string `json:"comment"`
}

// Run is the record of one experiment: its sweep, metadata and the ordered
// atoms captured so far. Finalize takes effect exactly once.
type Run struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	CreatedLocal time.Time
	Metadata     Metadata
	Sweep        map[string]any

	mu         sync.Mutex
	once       sync.Once
	atoms      []*Atom
	status     RunStatus
	err        error
	finishedAt time.Time
}

// NewRun starts a record for a sweep described by sweep.
func NewRun(meta Metadata, sweep map[string]any) *Run {
	now := time.Now()
	return &Run{
		ID:           uuid.New(),
		CreatedAt:    now.UTC(),
		CreatedLocal: now.Local(),
		Metadata:     meta,
		Sweep:        sweep,
		status:       RunInProgress,
	}
}

// Append adds the next atom. Atoms appended after Finalize are refused.
func (r *Run) Append(atom *Atom) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != RunInProgress {
		return errors.New().WithData(ErrRunFinalized, r.ID.String())
	}
	r.atoms = append(r.atoms, atom)
	return nil
}

// Atoms returns the captured atoms in capture order.
func (r *Run) Atoms() []*Atom {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Atom(nil), r.atoms...)
}

// Finalize records the terminal status. It reports whether this call was
// the one that took effect.
func (r *Run) Finalize(status RunStatus, err error) bool {
	applied := false
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.status = status
		r.err = err
		r.finishedAt = time.Now().UTC()
		applied = true
	})
	return applied
}

func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the error that ended a failed run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

// Meta returns the run description sent with notifications and stored
// alongside the atoms.
func (r *Run) Meta() map[string]any {
	return map[string]any{
		"experiment_id": r.ID.String(),
		"created_at":    r.CreatedAt.Format(time.RFC3339Nano),
		"created_local": r.CreatedLocal.Format(time.RFC3339Nano),
		"operator":      r.Metadata.Operator,
		"sample":        r.Metadata.Sample,
		"label":         r.Metadata.Label,
		"comment":       r.Metadata.Comment,
		"sweep":         r.Sweep,
	}
}

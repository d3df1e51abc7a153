// Package telemetry records the numeric leaves of every captured status
// snapshot as (run, step, key, value) rows, so instrument trends can be
// plotted across runs. Keys are dotted paths such as
// "Temperature Controller.MB1.T1.temperature_K".
package telemetry

import (
	"context"
	"math"
	"sort"
	"strings"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/hal"
	"codeberg.org/teralab/teractl/internal/logger"
)

// Recorder is a run sink writing flattened status to a Repository. A
// disabled recorder accepts and drops everything.
type Recorder struct {
	repo Repository
	log  logger.Logger
}

func NewRecorder(cfg Config) (*Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	log := logger.Component("telemetry")
	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op recorder")
		return &Recorder{log: log}, nil
	}

	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err
	}
	return &Recorder{repo: repo, log: log}, nil
}

// NewRecorderWithRepository wraps an existing repository.
func NewRecorderWithRepository(repo Repository) *Recorder {
	return &Recorder{repo: repo, log: logger.Component("telemetry")}
}

func (r *Recorder) Enabled() bool { return r.repo != nil }

func (r *Recorder) Open(run *data.Run) error {
	r.log.Debug().Str("run", run.ID.String()).Bool("enabled", r.Enabled()).Msg("Recording telemetry")
	return nil
}

func (r *Recorder) Write(run *data.Run, atom *data.Atom) error {
	if r.repo == nil {
		return nil
	}

	flat := Flatten(atom.Status)
	samples := make([]Sample, 0, len(flat))
	for key, value := range flat {
		samples = append(samples, Sample{
			RunID:     run.ID.String(),
			Index:     atom.Index,
			Timestamp: atom.Timestamp,
			Key:       key,
			Value:     value,
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Key < samples[j].Key })

	return r.repo.Store(context.Background(), samples)
}

func (r *Recorder) Close(*data.Run) error { return nil }

// Series returns one key's values across all runs.
func (r *Recorder) Series(ctx context.Context, key string) ([]Point, error) {
	if r.repo == nil {
		return nil, nil
	}
	return r.repo.Series(ctx, key)
}

// Keys lists the recorded keys.
func (r *Recorder) Keys(ctx context.Context) ([]string, error) {
	if r.repo == nil {
		return nil, nil
	}
	return r.repo.Keys(ctx)
}

// Shutdown closes the repository.
func (r *Recorder) Shutdown() error {
	if r.repo == nil {
		return nil
	}
	return r.repo.Close()
}

// Flatten returns the finite numeric leaves of a nested status map keyed by
// their dotted path. Booleans become 0 or 1; strings and nil are skipped.
func Flatten(status map[string]any) map[string]float64 {
	out := make(map[string]float64)
	flatten(out, nil, status)
	return out
}

func flatten(out map[string]float64, path []string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flatten(out, append(path[:len(path):len(path)], k), child)
		}
	case hal.Status:
		flatten(out, path, map[string]any(t))
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) {
			out[strings.Join(path, ".")] = t
		}
	case float32:
		flatten(out, path, float64(t))
	case int:
		out[strings.Join(path, ".")] = float64(t)
	case int64:
		out[strings.Join(path, ".")] = float64(t)
	case bool:
		if t {
			out[strings.Join(path, ".")] = 1
		} else {
			out[strings.Join(path, ".")] = 0
		}
	}
}

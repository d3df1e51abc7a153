package data

import (
	"encoding/json"
	"math"
	"time"

	"codeberg.org/teralab/teractl/internal/hal"
)

// Atom is one captured measurement: the status of every instrument at
// capture time plus the acquired payload. Atoms are not modified after
// Capture returns.
type Atom struct {
	Index     int
	Timestamp time.Time
	Status    map[string]any
	Payload   Payload
}

// Capture builds an atom by reading status first and data second. The
// timestamp is taken before either read.
func Capture(index int, readStatus func() map[string]any, readData func() (Payload, error)) (*Atom, error) {
	ts := time.Now()
	status := readStatus()
	payload, err := readData()
	if err != nil {
		return nil, err
	}

	return &Atom{
		Index:     index,
		Timestamp: ts,
		Status:    status,
		Payload:   payload,
	}, nil
}

type atomJSON struct {
	Index     int                  `json:"index"`
	Timestamp string               `json:"timestamp"`
	Status    any                  `json:"status"`
	Payload   map[string][]float64 `json:"payload,omitempty"`
}

// MarshalJSON encodes the atom with an RFC 3339 local timestamp carrying
// its UTC offset. Non-finite status values are written as null.
func (a *Atom) MarshalJSON() ([]byte, error) {
	out := atomJSON{
		Index:     a.Index,
		Timestamp: a.Timestamp.Local().Format(time.RFC3339Nano),
		Status:    JSONSafe(a.Status),
	}
	if a.Payload != nil {
		out.Payload = a.Payload.Arrays()
	}
	return json.Marshal(out)
}

// JSONSafe returns a copy of v in which NaN and infinite floats are nil.
func JSONSafe(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		return JSONSafe(float64(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = JSONSafe(val)
		}
		return out
	case hal.Status:
		return JSONSafe(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = JSONSafe(val)
		}
		return out
	}
	return v
}

package runner

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
)

// SafeDumper writes each captured payload to a local CSV file with a JSON
// companion, independent of the main persistence path.
type SafeDumper struct {
	dir        string
	errFactory errors.Factory
}

func NewSafeDumper(dir string) (*SafeDumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New().Wrap(ErrDumpFailed, err)
	}
	return &SafeDumper{dir: dir, errFactory: errors.New()}, nil
}

func (d *SafeDumper) Dir() string { return d.dir }

// Dump writes <timestamp>_<axis>_<index>.csv and .json and returns the CSV
// path.
func (d *SafeDumper) Dump(atom *data.Atom, meta map[string]any) (string, error) {
	axis, _ := meta["axis"].(string)
	if axis == "" {
		axis = "step"
	}
	base := fmt.Sprintf("%s_%s_%04d", atom.Timestamp.Format("20060102_150405.000"), axis, atom.Index)
	csvPath := filepath.Join(d.dir, base+".csv")

	if err := d.writeCSV(csvPath, atom.Payload); err != nil {
		return "", err
	}

	companion := map[string]any{
		"index":     atom.Index,
		"timestamp": atom.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		"meta":      data.JSONSafe(meta),
	}
	b, err := json.MarshalIndent(companion, "", "  ")
	if err != nil {
		return "", d.errFactory.Wrap(ErrDumpFailed, err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, base+".json"), b, 0o644); err != nil {
		return "", d.errFactory.Wrap(ErrDumpFailed, err)
	}
	return csvPath, nil
}

func (d *SafeDumper) writeCSV(path string, payload data.Payload) (err error) {
	if payload == nil {
		return d.errFactory.WithMessage(ErrDumpFailed, "no payload")
	}
	arrays := payload.Arrays()
	names := make([]string, 0, len(arrays))
	rows := 0
	for name, col := range arrays {
		if name != "time" {
			names = append(names, name)
		}
		rows = max(rows, len(col))
	}
	sort.Strings(names)
	if _, ok := arrays["time"]; ok {
		names = append([]string{"time"}, names...)
	}

	f, err := os.Create(path)
	if err != nil {
		return d.errFactory.Wrap(ErrDumpFailed, err)
	}
	defer d.closeInto(f, &err)

	w := csv.NewWriter(f)
	if err := w.Write(names); err != nil {
		return d.errFactory.Wrap(ErrDumpFailed, err)
	}
	record := make([]string, len(names))
	for r := 0; r < rows; r++ {
		for c, name := range names {
			col := arrays[name]
			if r < len(col) {
				record[c] = strconv.FormatFloat(col[r], 'g', -1, 64)
			} else {
				record[c] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return d.errFactory.Wrap(ErrDumpFailed, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return d.errFactory.Wrap(ErrDumpFailed, err)
	}
	return nil
}

// closeInto closes c and stores its error in err unless err already holds one.
func (d *SafeDumper) closeInto(c io.Closer, err *error) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = d.errFactory.Wrap(ErrDumpFailed, cerr)
	}
}

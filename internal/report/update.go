// Package report writes the run artifacts: the MARx_Update CSV and the
// date-stamped error log. Both are append-only and safe for concurrent use.
package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marx-cli/internal/model"
)

// UpdateWriter appends reconciled rows to the MARx_Update CSV.
type UpdateWriter struct {
	mu   sync.Mutex
	path string
	rows int
}

// NewUpdateWriter creates the file with its header when it does not exist.
// An existing file is appended to as-is.
func NewUpdateWriter(path string) (*UpdateWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "report: create dir for %s", path)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := appendRecords(path, model.UpdateHeader); err != nil {
			return nil, eris.Wrap(err, "report: write update header")
		}
	} else if err != nil {
		return nil, eris.Wrapf(err, "report: stat %s", path)
	}

	return &UpdateWriter{path: path}, nil
}

// Append writes one row.
func (w *UpdateWriter) Append(row model.UpdateRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := appendRecords(w.path, row.Record()); err != nil {
		return eris.Wrapf(err, "report: append update for policy %s", row.PolicyID)
	}
	w.rows++
	return nil
}

// Rows returns how many rows this writer appended.
func (w *UpdateWriter) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Path returns the output file path.
func (w *UpdateWriter) Path() string { return w.path }

// appendRecords opens, writes and closes per call so a crash never leaves
// buffered rows behind.
func appendRecords(path string, records ...[]string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(records); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrorLog appends one line per rejected or failed lookup.
type ErrorLog struct {
	mu    sync.Mutex
	path  string
	count int
}

// ErrorLogName returns the file name for the log of day t.
func ErrorLogName(t time.Time) string {
	return fmt.Sprintf("error_log_%s.txt", t.Format("01_02_2006"))
}

// NewErrorLog opens (creating lazily) today's error log inside dir.
func NewErrorLog(dir string, today time.Time) (*ErrorLog, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "report: create error log dir %s", dir)
	}
	return &ErrorLog{path: filepath.Join(dir, ErrorLogName(today))}, nil
}

// IncorrectClaimNumber logs a claim number of the wrong length.
func (l *ErrorLog) IncorrectClaimNumber(mbi, policyID string) error {
	return l.write(fmt.Sprintf("Error: Incorrect Medicare Number: %s for Policy ID:%s", mbi, policyID))
}

// InvalidClaimNumber logs a claim number the portal rejected.
func (l *ErrorLog) InvalidClaimNumber(mbi, policyID string) error {
	return l.write(fmt.Sprintf("Error: Invalid Medicare Number: %s for Policy ID:%s", mbi, policyID))
}

// BeneficiaryNotFound logs a claim number with no beneficiary.
func (l *ErrorLog) BeneficiaryNotFound(mbi, policyID string) error {
	return l.write(fmt.Sprintf("Error: Beneficiary not found for Medicare Number: %s for Policy ID:%s", mbi, policyID))
}

// LookupFailed logs a lookup that gave up after its retries.
func (l *ErrorLog) LookupFailed(mbi, policyID string, reason error) error {
	return l.write(fmt.Sprintf("Error: Lookup failed for Medicare Number: %s for Policy ID:%s: %v", mbi, policyID, reason))
}

// Count returns the number of lines written by this log.
func (l *ErrorLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Path returns the log file path. The file exists only once a line is written.
func (l *ErrorLog) Path() string { return l.path }

// Exists reports whether anything has been logged to the file, by this run or
// an earlier one on the same day.
func (l *ErrorLog) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

func (l *ErrorLog) write(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "report: open error log %s", l.path)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return eris.Wrap(err, "report: write error log")
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "report: close error log")
	}
	l.count++
	return nil
}

// Package notify sends the completion report for a reconciliation run.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sells-group/marx-cli/internal/model"
)

// Report summarises a finished run.
type Report struct {
	Date         time.Time `json:"date"`
	InputFile    string    `json:"input_file"`
	Policies     int       `json:"policies"`
	Alerts       int       `json:"alerts"`
	ErrorLogPath string    `json:"error_log_path,omitempty"`
}

// Subject is the notification subject line.
func (r Report) Subject() string {
	return fmt.Sprintf("Script Completion Report - %s", r.Date.Format(model.USDateLayout))
}

// HTMLBody is the notification body.
func (r Report) HTMLBody() string {
	return fmt.Sprintf(
		"The MARx script successfully completed the job for %s.<br> CSV File Processed: %s. <br> Total Policies Processed: %d <br> Total errors that need to be resolved: %d",
		r.Date.Format(model.USDateLayout), r.InputFile, r.Policies, r.Alerts,
	)
}

// Notifier delivers a completion report.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Nop discards reports.
type Nop struct{}

func (Nop) Notify(context.Context, Report) error { return nil }

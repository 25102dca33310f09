// Package tracker carries job reports from running handlers to observers.
//
// A Sink is the address a report is sent to. Sends are fire-and-forget:
// a Sink never blocks the caller and drops reports it cannot accept.
// Channel buffers reports for a single consumer and Hub fans them out to
// many subscribers.
package tracker

import (
	"time"

	"github.com/xraph/conveyor/id"
)

// Kind classifies a Report.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
)

// Report is an event about one job execution.
type Report struct {
	JobID   id.JobID  `json:"job_id"`
	JobName string    `json:"job_name"`
	Kind    Kind      `json:"kind"`
	// Progress is a percentage in [0, 100]. It is set for progress reports
	// and is 100 for completed ones.
	Progress uint8     `json:"progress"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// Progress builds a progress report, clamping pct to 100.
func Progress(jobID id.JobID, name string, pct uint8) Report {
	if pct > 100 {
		pct = 100
	}
	return Report{JobID: jobID, JobName: name, Kind: KindProgress, Progress: pct, At: time.Now().UTC()}
}

// Completed builds a completion report.
func Completed(jobID id.JobID, name string) Report {
	return Report{JobID: jobID, JobName: name, Kind: KindCompleted, Progress: 100, At: time.Now().UTC()}
}

// Failed builds a failure report carrying msg.
func Failed(jobID id.JobID, name, msg string) Report {
	return Report{JobID: jobID, JobName: name, Kind: KindFailed, Message: msg, At: time.Now().UTC()}
}

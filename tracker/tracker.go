package tracker

import "github.com/xraph/conveyor/id"

// Sink accepts reports. Implementations must not block the sender and
// must be safe for concurrent use.
type Sink interface {
	Send(r Report)
}

// SinkFunc adapts a function to a Sink. The function runs on the
// sender's goroutine, so it must return promptly.
type SinkFunc func(r Report)

// Send calls f.
func (f SinkFunc) Send(r Report) { f(r) }

// Discard is a Sink that drops everything.
var Discard Sink = SinkFunc(func(Report) {})

// Tracker is bound to one job execution and sends reports about it to a
// sink. A nil *Tracker is valid and drops everything.
type Tracker struct {
	jobID id.JobID
	name  string
	sink  Sink
}

// New binds a tracker to jobID. A nil sink yields a nil tracker.
func New(jobID id.JobID, name string, sink Sink) *Tracker {
	if sink == nil {
		return nil
	}
	return &Tracker{jobID: jobID, name: name, sink: sink}
}

// JobID returns the job the tracker reports on.
func (t *Tracker) JobID() id.JobID {
	if t == nil {
		return id.Nil
	}
	return t.jobID
}

// UpdateProgress sends a progress report.
func (t *Tracker) UpdateProgress(pct uint8) {
	if t == nil {
		return
	}
	t.sink.Send(Progress(t.jobID, t.name, pct))
}

// Completed sends a completion report.
func (t *Tracker) Completed() {
	if t == nil {
		return
	}
	t.sink.Send(Completed(t.jobID, t.name))
}

// Failed sends a failure report.
func (t *Tracker) Failed(msg string) {
	if t == nil {
		return
	}
	t.sink.Send(Failed(t.jobID, t.name, msg))
}

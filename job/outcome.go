package job

// Outcome is the disposition a handler chooses for an attempt. The worker
// turns it into the matching store call after the handler returns.
type Outcome int

const (
	// OutcomeAck completes the envelope.
	OutcomeAck Outcome = iota
	// OutcomeRetry reschedules the envelope after backoff.
	OutcomeRetry
	// OutcomeKill stops the envelope permanently.
	OutcomeKill
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	case OutcomeKill:
		return "kill"
	default:
		return "unknown"
	}
}

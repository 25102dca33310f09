package job

// transitions lists every legal state change. Running → running covers
// heartbeats and reclaims of expired locks.
var transitions = map[State][]State{
	StatePending: {StateRunning},
	StateFailed:  {StateRunning},
	StateRunning: {StateRunning, StateDone, StatePending, StateFailed, StateKilled},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RetryState returns the state a retried envelope moves to when attempts
// remain: failed after a fault, pending after a requested retry.
func RetryState(faulted bool) State {
	if faulted {
		return StateFailed
	}
	return StatePending
}

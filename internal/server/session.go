package server

// SessionState tracks a connection through its lifecycle. A connection is
// created in StateConnecting, must authenticate before it may join a room,
// and ends in StateClosed, which is terminal.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateIdle
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// validTransition reports whether a session may move from one state to
// another. Re-joining a different room is joined -> joined. Closed is
// reachable from every state and absorbs all further transitions.
func validTransition(from, to SessionState) bool {
	if to == StateClosed {
		return from != StateClosed
	}

	switch from {
	case StateConnecting:
		return to == StateAuthenticating
	case StateAuthenticating:
		return to == StateIdle
	case StateIdle:
		return to == StateJoined
	case StateJoined:
		return to == StateJoined
	default:
		return false
	}
}

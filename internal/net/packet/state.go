package packet

import "fmt"

// SessionState is the session's protocol phase. Transitions only move forward.
type SessionState int32

const (
	StateAuthenticating SessionState = iota // handshake done, awaiting Login
	StateActive                             // authenticated; gameplay allowed
	StateClosing                            // disconnect requested, detaching from the world
	StateClosed                             // terminal
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticating:
		return "Authenticating"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ProtocolStateError is a registered message received in a state that does
// not allow it. It is connection-fatal.
type ProtocolStateError struct {
	Type  MsgType
	State SessionState
}

func (e *ProtocolStateError) Error() string {
	return fmt.Sprintf("message %s not allowed in state %s", e.Type, e.State)
}

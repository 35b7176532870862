package events

// ConsumerState describes where a subscriber's delivery loop currently is.
type ConsumerState int32

const (
	// StateDisconnected means no broker session exists and none is being attempted.
	StateDisconnected ConsumerState = iota
	// StateConnecting means the loop is (re)establishing its broker session.
	StateConnecting
	// StateIdle means the session is up and waiting for the next message.
	StateIdle
	// StateProcessing means exactly one message is being handled.
	StateProcessing
)

func (s ConsumerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Ready reports whether the consumer holds a live session.
func (s ConsumerState) Ready() bool { return s == StateIdle || s == StateProcessing }

// StateReporter is implemented by buses that expose their consumer state.
type StateReporter interface {
	State() ConsumerState
}

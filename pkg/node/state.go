package node

// State represents the lifecycle state of a Node.
type State int

const (
	// StateUninitialized is the initial state before NewNode completes.
	StateUninitialized State = iota

	// StateInitialized means the node is created but not started.
	StateInitialized

	// StateStarting means Start() is restoring state and opening the bearer.
	StateStarting

	// StateRunning means the controller is set up and the bearer is open.
	StateRunning

	// StateStopping means Stop() is in progress.
	StateStopping

	// StateStopped means the node has been shut down.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitialized:
		return "Initialized"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsRunning returns true if the node is operational.
func (s State) IsRunning() bool {
	return s == StateRunning
}

// CanStart returns true if Start() can be called in this state.
func (s State) CanStart() bool {
	return s == StateInitialized
}

// CanStop returns true if Stop() can be called in this state.
func (s State) CanStop() bool {
	return s.IsRunning()
}

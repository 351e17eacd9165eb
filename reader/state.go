package reader

import "fmt"

// State is the lifecycle state of a Manager.
type State int

const (
	Uninitialized State = iota
	Starting
	Running
	// Fallback means the configured reader could not be started and the mock reader runs in its place.
	Fallback
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Fallback:
		return "FALLBACK"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a reader instance is running in this state.
func (s State) Active() bool {
	return s == Running || s == Fallback
}

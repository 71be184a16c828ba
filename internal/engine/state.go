package engine

// State is the lifecycle state of a capture session.
//
//	Idle -> Running <-> Paused
//	Running|Paused -> Stopping -> Stopped
//	Running|Paused -> Stopped (process exited on its own)
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

var stateNames = [...]string{
	StateIdle:     "idle",
	StateRunning:  "running",
	StatePaused:   "paused",
	StateStopping: "stopping",
	StateStopped:  "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Active reports whether the session still owns a live process.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused || s == StateStopping
}

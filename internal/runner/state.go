package runner

// State is the execution state of a worker.
type State int32

const (
	Idle State = iota
	Running
	Paused
	Finished
	Aborted
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	case Aborted:
		return "aborted"
	case Error:
		return "error"
	}
	return "unknown"
}

// Active reports whether a run is in progress. Error counts as idle for
// starting a new run.
func (s State) Active() bool {
	return s == Running || s == Paused
}

// Package worker implements the two job loops: the store worker drains a
// bus consumer into chunk objects, the load worker replays chunk objects
// back onto the bus.
package worker

// ExitReason tells the supervisor why a worker returned so it can converge
// the job's durable status.
type ExitReason int

const (
	// ExitCompleted means the worker finished its work (load jobs with a
	// bounded window). A non-nil error alongside means it finished badly.
	ExitCompleted ExitReason = iota

	// ExitPaused means a pause was requested and honored.
	ExitPaused

	// ExitCancelled means the run context was cancelled (shutdown, delete).
	ExitCancelled

	// ExitFailed means the worker gave up after an unrecoverable error.
	ExitFailed
)

func (r ExitReason) String() string {
	switch r {
	case ExitCompleted:
		return "completed"
	case ExitPaused:
		return "paused"
	case ExitCancelled:
		return "cancelled"
	case ExitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

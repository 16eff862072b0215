package jobs

// Kind distinguishes the two job families.
type Kind string

const (
	KindStore Kind = "store"
	KindLoad  Kind = "load"
)

// Status is the durable lifecycle state of a job.
//
// Jobs start in Created, move to Running when a worker is spawned, and end
// in Success or Failure. Paused is a resumable intermediate state. Terminal
// states can only be left by deleting the job.
type Status string

const (
	StatusCreated Status = "Created"
	StatusRunning Status = "Running"
	StatusPaused  Status = "Paused"
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
)

// transitions maps each status to the set of statuses it may legally move to.
var transitions = map[Status][]Status{
	StatusCreated: {StatusRunning, StatusPaused, StatusFailure},
	StatusRunning: {StatusPaused, StatusSuccess, StatusFailure},
	StatusPaused:  {StatusRunning, StatusFailure},
	StatusSuccess: {},
	StatusFailure: {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether a job in this status has finished.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// TransitionSources returns the statuses from which a job may legally move
// to the given status. Used by catalog implementations to guard updates.
func TransitionSources(to Status) []Status {
	var from []Status
	for s, targets := range transitions {
		for _, t := range targets {
			if t == to {
				from = append(from, s)
			}
		}
	}
	return from
}

package jobqueue

// Status is the lifecycle state of a job
type Status string

// Job status constants
const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsQueued reports whether a job in this state belongs in a queue
func (s Status) IsQueued() bool {
	return s == StatusPending || s == StatusRunning
}

func (s Status) String() string {
	return string(s)
}

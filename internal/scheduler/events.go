package scheduler

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
)

// Event types
const (
	EventSubmitted = "job.submitted"
	EventCompleted = "job.completed"
)

// Event describes a job lifecycle transition seen by the driver
type Event struct {
	Type   string
	Job    jobqueue.Info
	Params json.RawMessage
	Source string
	Result any // set on FINISHED jobs whose runner exposes one
	Time   time.Time
}

// Sink observes job lifecycle events.
// Methods run on the tick goroutine and must not block.
type Sink interface {
	JobSubmitted(ev Event)
	JobCompleted(ev Event)
}

// TickReport summarizes one driver tick
type TickReport struct {
	Tick     uint64            `json:"tick"`
	Start    time.Time         `json:"start"`
	Duration time.Duration     `json:"duration"`
	Accepted int               `json:"accepted"`
	Rejected int               `json:"rejected"`
	Tracked  int               `json:"tracked"`
	Queues   []jobqueue.Report `json:"queues"`
}

// TickObserver receives a report after every tick. It must not block.
type TickObserver interface {
	ObserveTick(r TickReport)
}

package jobqueue

import "time"

// Clock supplies wall-clock readings to a queue
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default clock backed by time.Now
var SystemClock Clock = systemClock{}

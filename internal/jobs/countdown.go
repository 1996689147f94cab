package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
)

// KindCountdown finishes after a fixed amount of units, used for smoke and load testing
const KindCountdown = "countdown"

const countdownSchema = `{
	"type": "object",
	"required": ["steps"],
	"properties": {
		"steps": {"type": "integer", "minimum": 1, "maximum": 1000000},
		"per_run": {"type": "integer", "minimum": 1}
	}
}`

// CountdownParams configures a countdown job
type CountdownParams struct {
	Steps  int `json:"steps"`
	PerRun int `json:"per_run"`
}

// CountdownResult is the output of a countdown job
type CountdownResult struct {
	Completed int `json:"completed"`
}

// CountdownRunner completes PerRun units per Run until Steps are done
type CountdownRunner struct {
	remaining int
	perRun    int
	result    CountdownResult
}

// NewCountdownRunner validates params
func NewCountdownRunner(params CountdownParams) (*CountdownRunner, error) {
	if params.Steps <= 0 {
		return nil, fmt.Errorf("%w: steps must be positive", ErrInvalidParams)
	}
	if params.PerRun <= 0 {
		params.PerRun = 1
	}
	return &CountdownRunner{remaining: params.Steps, perRun: params.PerRun}, nil
}

func buildCountdown(raw json.RawMessage) (jobqueue.Runner, error) {
	var params CountdownParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return NewCountdownRunner(params)
}

// Run completes one batch of units
func (r *CountdownRunner) Run(*jobqueue.Slice) (bool, error) {
	n := min(r.perRun, r.remaining)
	r.remaining -= n
	r.result.Completed += n
	return r.remaining == 0, nil
}

// Result returns progress so far
func (r *CountdownRunner) Result() any {
	return r.result
}

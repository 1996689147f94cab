package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

// SourceAMQP tags submissions that arrived over RabbitMQ
const SourceAMQP = "amqp"

// SubmissionMessage is the wire format of a job submission
type SubmissionMessage struct {
	JobID      string          `json:"job_id,omitempty"`
	Kind       string          `json:"kind"`
	Queue      string          `json:"queue,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	MaxSliceMs int             `json:"max_slice_ms,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// ParseSubmission decodes a delivery body into a scheduler submission
func ParseSubmission(body []byte) (scheduler.Submission, error) {
	var msg SubmissionMessage

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return scheduler.Submission{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if msg.Kind == "" {
		return scheduler.Submission{}, fmt.Errorf("%w: kind is required", ErrMalformedMessage)
	}
	if msg.MaxSliceMs < 0 {
		return scheduler.Submission{}, fmt.Errorf("%w: max_slice_ms must not be negative", ErrMalformedMessage)
	}

	if msg.JobID != "" {
		if _, err := uuid.Parse(msg.JobID); err != nil {
			return scheduler.Submission{}, fmt.Errorf("%w: %v", ErrInvalidJobID, err)
		}
	}

	return scheduler.Submission{
		ID:       msg.JobID,
		Kind:     msg.Kind,
		Queue:    msg.Queue,
		Priority: msg.Priority,
		MaxSlice: time.Duration(msg.MaxSliceMs) * time.Millisecond,
		Params:   msg.Params,
		Source:   SourceAMQP,
	}, nil
}

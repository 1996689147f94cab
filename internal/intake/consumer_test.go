package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
	"github.com/cuongbtq/tickqueue/internal/jobs"
	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

type ackRecord struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, acked: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) byTag() map[uint64]ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint64]ackRecord, len(a.records))
	for _, r := range a.records {
		out[r.tag] = r
	}
	return out
}

type fakeSubmitter struct {
	mu    sync.Mutex
	subs  []scheduler.Submission
	errOf func(scheduler.Submission) error
}

func (s *fakeSubmitter) Submit(ctx context.Context, sub scheduler.Submission) (*jobqueue.Job, error) {
	if s.errOf != nil {
		if err := s.errOf(sub); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	return jobqueue.NewJob(jobqueue.RunnerFunc(func(*jobqueue.Slice) (bool, error) { return true, nil }),
		jobqueue.WithID(sub.ID),
		jobqueue.WithKind(sub.Kind),
	)
}

type fakeSource struct {
	ch  chan amqp.Delivery
	err error
	tag string
}

func (f *fakeSource) Consume(tag string) (<-chan amqp.Delivery, error) {
	f.tag = tag
	return f.ch, f.err
}

func TestParseSubmission(t *testing.T) {
	id := "0b6a5b0e-7c43-4d6a-9d3c-2f5f3c8b1a10"

	tests := []struct {
		name    string
		body    string
		wantErr error
		check   func(t *testing.T, sub scheduler.Submission)
	}{
		{
			name: "full message",
			body: fmt.Sprintf(`{"job_id":%q,"kind":"pathfind","queue":"pathfinding","priority":4,"max_slice_ms":3,"params":{"width":2}}`, id),
			check: func(t *testing.T, sub scheduler.Submission) {
				assert.Equal(t, id, sub.ID)
				assert.Equal(t, "pathfind", sub.Kind)
				assert.Equal(t, "pathfinding", sub.Queue)
				assert.Equal(t, 4, sub.Priority)
				assert.Equal(t, 3*time.Millisecond, sub.MaxSlice)
				assert.JSONEq(t, `{"width":2}`, string(sub.Params))
				assert.Equal(t, SourceAMQP, sub.Source)
			},
		},
		{
			name: "minimal message",
			body: `{"kind":"countdown"}`,
			check: func(t *testing.T, sub scheduler.Submission) {
				assert.Empty(t, sub.ID)
				assert.Zero(t, sub.MaxSlice)
			},
		},
		{name: "not json", body: `not json`, wantErr: ErrMalformedMessage},
		{name: "missing kind", body: `{"params":{}}`, wantErr: ErrMalformedMessage},
		{name: "unknown field", body: `{"kind":"countdown","payload":"x"}`, wantErr: ErrMalformedMessage},
		{name: "negative slice", body: `{"kind":"countdown","max_slice_ms":-1}`, wantErr: ErrMalformedMessage},
		{name: "job id not uuid", body: `{"kind":"countdown","job_id":"abc"}`, wantErr: ErrInvalidJobID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := ParseSubmission([]byte(tt.body))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, sub)
		})
	}
}

func TestShouldRequeue(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "malformed", err: fmt.Errorf("%w: x", ErrMalformedMessage), expected: false},
		{name: "bad job id", err: ErrInvalidJobID, expected: false},
		{name: "inbox full", err: NewRetryableError(scheduler.ErrInboxFull), expected: true},
		{name: "unknown kind", err: fmt.Errorf("wrapped: %w", jobs.ErrUnknownKind), expected: false},
		{name: "unknown error", err: errors.New("boom"), expected: false},
		{name: "interrupted by shutdown", err: NewRetryableError(context.Canceled), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, shouldRequeue(tt.err))
		})
	}
}

func TestConsumer_AckNackDecisions(t *testing.T) {
	ack := &fakeAcknowledger{}
	submitter := &fakeSubmitter{
		errOf: func(sub scheduler.Submission) error {
			switch sub.Kind {
			case "busy":
				return scheduler.ErrInboxFull
			case "teleport":
				return fmt.Errorf("%w: %q", jobs.ErrUnknownKind, sub.Kind)
			}
			return nil
		},
	}
	source := &fakeSource{ch: make(chan amqp.Delivery, 8)}

	bodies := []string{
		`{"kind":"countdown","params":{"steps":1}}`,
		`garbage`,
		`{"kind":"busy"}`,
		`{"kind":"teleport"}`,
	}
	for i, b := range bodies {
		source.ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i + 1), Body: []byte(b)}
	}
	close(source.ch)

	consumer := NewConsumer(&Config{
		Logger:      slog.New(slog.DiscardHandler),
		Source:      source,
		Submitter:   submitter,
		ConsumerTag: "scheduler-1",
		Concurrency: 2,
	})

	require.NoError(t, consumer.Start(context.Background()))
	assert.Equal(t, "scheduler-1", source.tag)

	records := ack.byTag()
	require.Len(t, records, 4)
	assert.True(t, records[1].acked)
	assert.Equal(t, ackRecord{tag: 2, requeue: false}, records[2])
	assert.Equal(t, ackRecord{tag: 3, requeue: true}, records[3])
	assert.Equal(t, ackRecord{tag: 4, requeue: false}, records[4])

	require.Len(t, submitter.subs, 1)
	assert.Equal(t, "countdown", submitter.subs[0].Kind)
}

func TestConsumer_StopsOnContextCancel(t *testing.T) {
	source := &fakeSource{ch: make(chan amqp.Delivery)}
	consumer := NewConsumer(&Config{
		Logger:    slog.New(slog.DiscardHandler),
		Source:    source,
		Submitter: &fakeSubmitter{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_StartError(t *testing.T) {
	consumer := NewConsumer(&Config{
		Logger: slog.New(slog.DiscardHandler),
		Source: &fakeSource{err: errors.New("channel closed")},
	})

	err := consumer.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming")
}

func TestConsumer_RequeuesWhenShutdownInterruptsSubmit(t *testing.T) {
	ack := &fakeAcknowledger{}
	submitter := &fakeSubmitter{
		errOf: func(scheduler.Submission) error { return context.Canceled },
	}
	consumer := NewConsumer(&Config{
		Logger:    slog.New(slog.DiscardHandler),
		Submitter: submitter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobsChan := make(chan amqp.Delivery, 1)
	jobsChan <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{"kind":"countdown","params":{"steps":1}}`)}
	close(jobsChan)

	consumer.wg.Add(1)
	consumer.workerLoop(ctx, 0, jobsChan)

	assert.Equal(t, ackRecord{tag: 7, requeue: true}, ack.byTag()[7])
	assert.Empty(t, submitter.subs)
}

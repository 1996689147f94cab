package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
	"github.com/cuongbtq/tickqueue/internal/jobs"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu        sync.Mutex
	submitted []Event
	completed []Event
}

func (s *recordingSink) JobSubmitted(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, ev)
}

func (s *recordingSink) JobCompleted(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, ev)
}

func (s *recordingSink) Completed() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.completed...)
}

type recordingObserver struct {
	reports []TickReport
}

func (o *recordingObserver) ObserveTick(r TickReport) {
	o.reports = append(o.reports, r)
}

const kindSlow = "slow"

// registry with the built-in kinds plus a "slow" kind that costs 1ms of clock per run
func testRegistry(t *testing.T, clock *manualClock, routes map[string]string) *jobs.Registry {
	t.Helper()
	reg, err := jobs.DefaultRegistry(routes)
	require.NoError(t, err)

	require.NoError(t, reg.Register(jobs.Factory{
		Kind:   kindSlow,
		Queue:  routes[kindSlow],
		Schema: `{"type": "object", "properties": {"steps": {"type": "integer", "minimum": 1}}}`,
		Build: func(params json.RawMessage) (jobqueue.Runner, error) {
			var p struct {
				Steps int `json:"steps"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			if p.Steps == 0 {
				p.Steps = 1000
			}
			calls := 0
			return jobqueue.RunnerFunc(func(*jobqueue.Slice) (bool, error) {
				calls++
				if clock != nil {
					clock.Advance(time.Millisecond)
				}
				return calls >= p.Steps, nil
			}), nil
		},
	}))
	return reg
}

func testConfig() Config {
	return Config{
		TickInterval: 50 * time.Millisecond,
		InboxSize:    16,
		Retention:    time.Minute,
		Queues: []QueueSpec{
			{Name: "pathfinding", MaxTime: 2 * time.Millisecond, Priority: true},
			{Name: "background", MaxTime: 2 * time.Millisecond, Yield: jobqueue.YieldRotate},
		},
	}
}

func newTestDriver(t *testing.T, cfg Config, opts ...Option) (*Driver, *manualClock, *recordingSink) {
	t.Helper()
	clock := newManualClock()
	sink := &recordingSink{}
	reg := testRegistry(t, clock, map[string]string{jobs.KindCountdown: "background"})

	opts = append([]Option{WithClock(clock), WithSink(sink)}, opts...)
	d, err := New(cfg, reg, nil, opts...)
	require.NoError(t, err)
	return d, clock, sink
}

func TestNew_Errors(t *testing.T) {
	reg := testRegistry(t, nil, nil)

	tests := []struct {
		name    string
		cfg     Config
		builder Builder
	}{
		{name: "no builder", cfg: testConfig()},
		{name: "no queues", cfg: Config{TickInterval: time.Second}, builder: reg},
		{name: "zero tick", cfg: Config{Queues: []QueueSpec{{Name: "a"}}}, builder: reg},
		{
			name: "duplicate queue",
			cfg: Config{
				TickInterval: time.Second,
				Queues:       []QueueSpec{{Name: "a"}, {Name: "a"}},
			},
			builder: reg,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.cfg, tt.builder, nil)
			assert.Error(t, err)
			assert.Nil(t, d)
		})
	}
}

func TestDriver_SubmitAndTick(t *testing.T) {
	d, _, sink := newTestDriver(t, testConfig())

	job, err := d.Submit(context.Background(), Submission{
		ID:     "cd-1",
		Kind:   jobs.KindCountdown,
		Params: json.RawMessage(`{"steps": 3}`),
		Source: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, jobqueue.StatusPending, job.Status())

	found, ok := d.Lookup("cd-1")
	require.True(t, ok)
	assert.Same(t, job, found)

	report := d.Tick()

	assert.Equal(t, uint64(1), report.Tick)
	assert.Equal(t, 1, report.Accepted)
	require.Len(t, report.Queues, 2)
	assert.Equal(t, "background", report.Queues[1].Queue)
	assert.Equal(t, 3, report.Queues[1].Runs)

	assert.Equal(t, jobqueue.StatusFinished, job.Status())
	assert.Equal(t, "background", job.Queue())

	require.Len(t, sink.submitted, 1)
	assert.Equal(t, "test", sink.submitted[0].Source)
	assert.Equal(t, EventSubmitted, sink.submitted[0].Type)

	completed := sink.Completed()
	require.Len(t, completed, 1)
	assert.Equal(t, EventCompleted, completed[0].Type)
	assert.Equal(t, jobqueue.StatusFinished, completed[0].Job.Status)
	assert.Equal(t, jobs.CountdownResult{Completed: 3}, completed[0].Result)
	assert.JSONEq(t, `{"steps": 3}`, string(completed[0].Params))
}

func TestDriver_SubmitErrors(t *testing.T) {
	tests := []struct {
		name    string
		sub     Submission
		wantErr error
	}{
		{
			name:    "unknown kind",
			sub:     Submission{Kind: "teleport"},
			wantErr: jobs.ErrUnknownKind,
		},
		{
			name:    "invalid params",
			sub:     Submission{Kind: jobs.KindCountdown, Params: json.RawMessage(`{"steps": 0}`)},
			wantErr: jobs.ErrInvalidParams,
		},
		{
			name:    "unknown queue override",
			sub:     Submission{Kind: jobs.KindCountdown, Queue: "nowhere", Params: json.RawMessage(`{"steps": 1}`)},
			wantErr: ErrUnknownQueue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newTestDriver(t, testConfig())

			job, err := d.Submit(context.Background(), tt.sub)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, job)
			assert.Equal(t, 0, d.Stats().Inbox)
		})
	}
}

func TestDriver_SubmitInboxFull(t *testing.T) {
	cfg := testConfig()
	cfg.InboxSize = 1
	d, _, _ := newTestDriver(t, cfg)

	sub := Submission{Kind: jobs.KindCountdown, Params: json.RawMessage(`{"steps": 1}`)}
	_, err := d.Submit(context.Background(), sub)
	require.NoError(t, err)

	sub.ID = "overflow"
	_, err = d.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ErrInboxFull)

	_, ok := d.Lookup("overflow")
	assert.False(t, ok)

	d.Tick()
	_, err = d.Submit(context.Background(), sub)
	assert.NoError(t, err)
}

func TestDriver_SubmitDuplicateID(t *testing.T) {
	d, _, _ := newTestDriver(t, testConfig())
	sub := Submission{ID: "same", Kind: jobs.KindCountdown, Params: json.RawMessage(`{"steps": 1}`)}

	_, err := d.Submit(context.Background(), sub)
	require.NoError(t, err)

	_, err = d.Submit(context.Background(), sub)
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestDriver_DefaultQueueForUnroutedKind(t *testing.T) {
	d, _, _ := newTestDriver(t, testConfig())

	job, err := d.Submit(context.Background(), Submission{
		Kind:   jobs.KindReachability,
		Params: json.RawMessage(`{"width": 3, "height": 3, "start": {"x": 0, "y": 0}, "range": 2}`),
	})
	require.NoError(t, err)

	d.Tick()
	assert.Equal(t, "pathfinding", job.Queue())
	assert.Equal(t, []string{"pathfinding", "background"}, d.QueueNames())
}

func TestDriver_BudgetSpansTicks(t *testing.T) {
	d, _, sink := newTestDriver(t, testConfig())

	job, err := d.Submit(context.Background(), Submission{
		Kind:   kindSlow,
		Params: json.RawMessage(`{"steps": 5}`),
	})
	require.NoError(t, err)

	// 1ms per run against a 2ms budget: two runs per tick
	d.Tick()
	assert.Equal(t, jobqueue.StatusRunning, job.Status())
	assert.Equal(t, 2, job.Runs())

	d.Tick()
	assert.Equal(t, 4, job.Runs())
	assert.Empty(t, sink.Completed())

	d.Tick()
	assert.Equal(t, jobqueue.StatusFinished, job.Status())
	assert.Equal(t, 5, job.Runs())
	assert.Len(t, sink.Completed(), 1)
}

func TestDriver_Cancel(t *testing.T) {
	d, _, sink := newTestDriver(t, testConfig())

	job, err := d.Submit(context.Background(), Submission{ID: "slow-1", Kind: kindSlow})
	require.NoError(t, err)

	d.Tick()
	require.Equal(t, jobqueue.StatusRunning, job.Status())

	canceled, err := d.Cancel("slow-1")
	require.NoError(t, err)
	assert.Same(t, job, canceled)

	d.Tick()
	assert.Equal(t, jobqueue.StatusCanceled, job.Status())
	require.Len(t, sink.Completed(), 1)
	assert.Equal(t, jobqueue.StatusCanceled, sink.Completed()[0].Job.Status)
	assert.Nil(t, sink.Completed()[0].Result)

	_, err = d.Cancel("slow-1")
	assert.ErrorIs(t, err, ErrJobCompleted)

	_, err = d.Cancel("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDriver_CancelBeforeFirstTick(t *testing.T) {
	d, _, _ := newTestDriver(t, testConfig())

	job, err := d.Submit(context.Background(), Submission{Kind: kindSlow})
	require.NoError(t, err)

	_, err = d.Cancel(job.ID())
	require.NoError(t, err)

	report := d.Tick()
	assert.Equal(t, jobqueue.StatusCanceled, job.Status())
	assert.Equal(t, 0, job.Runs())
	assert.Equal(t, 1, report.Queues[0].Canceled)
}

func TestDriver_Retention(t *testing.T) {
	d, clock, _ := newTestDriver(t, testConfig())

	job, err := d.Submit(context.Background(), Submission{
		Kind:   jobs.KindCountdown,
		Params: json.RawMessage(`{"steps": 1}`),
	})
	require.NoError(t, err)

	d.Tick()
	require.Equal(t, jobqueue.StatusFinished, job.Status())

	clock.Advance(30 * time.Second)
	d.Tick()
	_, ok := d.Lookup(job.ID())
	assert.True(t, ok)

	clock.Advance(31 * time.Second)
	d.Tick()
	_, ok = d.Lookup(job.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, d.Stats().Tracked)
}

func TestDriver_QueueFullAbandonsJob(t *testing.T) {
	cfg := testConfig()
	cfg.Queues[0].MaxLength = 1
	d, _, sink := newTestDriver(t, cfg)

	first, err := d.Submit(context.Background(), Submission{Kind: kindSlow})
	require.NoError(t, err)
	second, err := d.Submit(context.Background(), Submission{Kind: kindSlow})
	require.NoError(t, err)

	report := d.Tick()

	assert.Equal(t, 1, report.Accepted)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, jobqueue.StatusRunning, first.Status())
	assert.Equal(t, jobqueue.StatusCanceled, second.Status())
	assert.ErrorIs(t, second.Err(), jobqueue.ErrQueueFull)

	require.Len(t, sink.Completed(), 1)
	assert.Equal(t, second.ID(), sink.Completed()[0].Job.ID)
}

func TestDriver_ObserverAndStats(t *testing.T) {
	obs := &recordingObserver{}
	d, _, _ := newTestDriver(t, testConfig(), WithObserver(obs))

	for i := 0; i < 3; i++ {
		_, err := d.Submit(context.Background(), Submission{
			Kind:   jobs.KindCountdown,
			Params: json.RawMessage(`{"steps": 2}`),
		})
		require.NoError(t, err)
	}

	d.Tick()
	d.Tick()

	require.Len(t, obs.reports, 2)
	assert.Equal(t, uint64(1), obs.reports[0].Tick)
	assert.Equal(t, 3, obs.reports[0].Accepted)
	assert.Equal(t, uint64(2), obs.reports[1].Tick)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Ticks)
	assert.Equal(t, 3, stats.Tracked)
	require.Len(t, stats.Queues, 2)
	assert.Equal(t, "background", stats.Queues[1].Name)
	assert.Equal(t, uint64(3), stats.Queues[1].Enqueued)
	assert.Equal(t, uint64(3), stats.Queues[1].Finished)
	assert.Equal(t, 0, stats.Queues[1].Length)
}

func TestDriver_Run(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	sink := &recordingSink{}
	reg := testRegistry(t, nil, map[string]string{jobs.KindCountdown: "background"})

	d, err := New(cfg, reg, nil, WithSink(sink))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	quick, err := d.Submit(context.Background(), Submission{
		Kind:   jobs.KindCountdown,
		Params: json.RawMessage(`{"steps": 2}`),
	})
	require.NoError(t, err)

	select {
	case <-quick.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}
	assert.Equal(t, jobqueue.StatusFinished, quick.Status())

	endless, err := d.Submit(context.Background(), Submission{
		Kind:   kindSlow,
		Params: json.RawMessage(`{"steps": 1000000000}`),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return endless.Status() == jobqueue.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}

	assert.True(t, d.IsStopped())
	assert.Equal(t, jobqueue.StatusCanceled, endless.Status())
	assert.ErrorIs(t, endless.Err(), ErrStopped)

	_, err = d.Submit(context.Background(), Submission{Kind: jobs.KindCountdown, Params: json.RawMessage(`{"steps": 1}`)})
	assert.ErrorIs(t, err, ErrStopped)

	assert.Len(t, sink.Completed(), 2)
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "", ErrorText(nil))
	assert.Equal(t, "panic: boom", ErrorText(&jobqueue.PanicError{JobID: "x", Value: "boom"}))
	assert.Equal(t, "job queue is full", ErrorText(jobqueue.ErrQueueFull))
}

func TestDriver_SubmittedEventCarriesQueue(t *testing.T) {
	d, _, sink := newTestDriver(t, testConfig())

	_, err := d.Submit(context.Background(), Submission{
		ID:     "cd-q",
		Kind:   jobs.KindCountdown,
		Params: json.RawMessage(`{"steps": 1}`),
	})
	require.NoError(t, err)
	d.Tick()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.submitted, 1)
	assert.Equal(t, "background", sink.submitted[0].Job.Queue)
	require.Len(t, sink.completed, 1)
	assert.Equal(t, "background", sink.completed[0].Job.Queue)
}

func TestDriver_SubmitRacingShutdownLeavesNoStrandedJobs(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Millisecond
	d, _, _ := newTestDriver(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		assert.NoError(t, d.Run(ctx))
	}()

	var (
		mu       sync.Mutex
		accepted []*jobqueue.Job
		wg       sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := d.Submit(context.Background(), Submission{
					Kind:   jobs.KindCountdown,
					Params: json.RawMessage(`{"steps": 1}`),
				})
				switch {
				case errors.Is(err, ErrStopped):
					return
				case err == nil:
					mu.Lock()
					accepted = append(accepted, job)
					mu.Unlock()
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-runDone
	wg.Wait()

	require.NotEmpty(t, accepted)
	for _, job := range accepted {
		select {
		case <-job.Done():
		default:
			t.Fatalf("job %s accepted but left %s after shutdown", job.ID(), job.Status())
		}
	}
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
	"github.com/cuongbtq/tickqueue/internal/scheduler"
)

func TestRecorder_PersistsLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec := NewRecorder(store, 16, slog.New(slog.DiscardHandler))

	info := jobqueue.Info{
		ID:       "job-1",
		Kind:     "countdown",
		Queue:    "background",
		Priority: 2,
		Status:   jobqueue.StatusPending,
	}
	rec.JobSubmitted(scheduler.Event{
		Type:   scheduler.EventSubmitted,
		Job:    info,
		Params: json.RawMessage(`{"steps":2}`),
		Source: "amqp",
		Time:   baseTime,
	})

	info.Status = jobqueue.StatusFinished
	info.Runs = 2
	info.StartedAt = baseTime.Add(time.Millisecond)
	info.CompletedAt = baseTime.Add(2 * time.Millisecond)
	rec.JobCompleted(scheduler.Event{
		Type:   scheduler.EventCompleted,
		Job:    info,
		Result: map[string]int{"completed": 2},
		Time:   info.CompletedAt,
	})

	failed := jobqueue.Info{ID: "job-2", Kind: "pathfind", Queue: "pathfinding", Status: jobqueue.StatusPending}
	rec.JobSubmitted(scheduler.Event{Job: failed, Time: baseTime})
	failed.Status = jobqueue.StatusFailed
	failed.Err = errors.New("grid is empty")
	rec.JobCompleted(scheduler.Event{Job: failed, Time: baseTime})

	require.NoError(t, rec.Close())
	assert.Zero(t, rec.Dropped())

	got, err := store.GetJobByID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "FINISHED", got.Status)
	assert.Equal(t, "amqp", got.Source)
	assert.Equal(t, 2, got.Priority)
	assert.Equal(t, 2, got.Runs)
	assert.JSONEq(t, `{"completed":2}`, got.Result.String)

	got, err = store.GetJobByID(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", got.Status)
	assert.Equal(t, "{}", got.Params)
	assert.Equal(t, "grid is empty", got.ErrorMessage.String)
}

func TestRecorder_IgnoresWritesAfterClose(t *testing.T) {
	store := newTestStore(t)
	rec := NewRecorder(store, 1, slog.New(slog.DiscardHandler))
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.NotPanics(t, func() {
		rec.JobSubmitted(scheduler.Event{Job: jobqueue.Info{ID: "late"}, Time: baseTime})
	})

	_, err := store.GetJobByID(context.Background(), "late")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

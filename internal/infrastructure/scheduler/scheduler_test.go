package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job " + j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("job exploded")
	}
	return j.err
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestRegisterValidation(t *testing.T) {
	s := newTestScheduler(t)

	assert.ErrorIs(t, s.Register(nil, time.Minute), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, 0), ErrInvalidInterval)

	require.NoError(t, s.Register(&countingJob{name: "a"}, time.Hour))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, time.Hour), ErrJobAlreadyExists)
	assert.Equal(t, []string{"a"}, s.Jobs())
}

func TestRunNowRecordsResult(t *testing.T) {
	s := newTestScheduler(t)
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: errors.New("store down")}
	require.NoError(t, s.Register(ok, time.Hour))
	require.NoError(t, s.Register(bad, time.Hour))

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), ok.runs.Load())

	_, err = s.RunNow(context.Background(), "bad")
	assert.EqualError(t, err, "store down")

	last, found := s.LastResult("bad")
	require.True(t, found)
	assert.False(t, last.Success)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunNowRecoversPanics(t *testing.T) {
	s := newTestScheduler(t)
	job := &countingJob{name: "boom", panic: true}
	require.NoError(t, s.Register(job, time.Hour))

	res, err := s.RunNow(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job exploded")
	assert.False(t, res.Success)
}

func TestScheduledJobRuns(t *testing.T) {
	s := newTestScheduler(t)
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, 20*time.Millisecond))

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestLastResultBeforeFirstRun(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.Register(&countingJob{name: "idle"}, time.Hour))

	_, found := s.LastResult("idle")
	assert.False(t, found)

	res, err := s.RunNow(context.Background(), "idle")
	require.NoError(t, err)
	assert.Equal(t, "idle", res.JobName)
	assert.False(t, res.StartedAt.IsZero())

	last, found := s.LastResult("idle")
	require.True(t, found)
	assert.Equal(t, res.StartedAt, last.StartedAt)
}

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(zerolog.Nop(), time.UTC)
	require.NoError(t, err)
	return s
}

func TestScheduler_RegisterAndList(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.RegisterTask(TaskConfig{ID: "b-task", Name: "B", Cron: "0 3 * * *", Func: noop}))
	require.NoError(t, s.RegisterTask(TaskConfig{ID: "a-task", Name: "A", Cron: "0 * * * *", Func: noop}))

	err := s.RegisterTask(TaskConfig{ID: "a-task", Name: "A", Cron: "0 * * * *", Func: noop})
	assert.Error(t, err)

	err = s.RegisterTask(TaskConfig{ID: "bad", Name: "Bad", Cron: "not a cron", Func: noop})
	assert.Error(t, err)

	s.Start()
	defer func() { _ = s.Stop() }()

	tasks := s.ListTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "a-task", tasks[0].ID)
	assert.Equal(t, "b-task", tasks[1].ID)
	assert.NotNil(t, tasks[0].NextRun)

	_, err = s.GetTask("missing")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestScheduler_RunNowRecordsOutcome(t *testing.T) {
	s := newTestScheduler(t)
	done := make(chan struct{})
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:   "failing",
		Name: "Failing",
		Cron: "0 0 1 1 *",
		Func: func(context.Context) error {
			defer close(done)
			return errors.New("boom")
		},
	}))
	s.Start()
	defer func() { _ = s.Stop() }()

	require.NoError(t, s.RunNow("failing"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	require.Eventually(t, func() bool {
		info, err := s.GetTask("failing")
		return err == nil && info.LastRun != nil && !info.Running
	}, 2*time.Second, 10*time.Millisecond)

	info, err := s.GetTask("failing")
	require.NoError(t, err)
	assert.Equal(t, "boom", info.LastError)

	assert.True(t, errors.Is(s.RunNow("nope"), ErrTaskNotFound))
}

func TestScheduler_StopCancelsRunningTask(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:         "blocking",
		Name:       "Blocking",
		Cron:       "0 0 1 1 *",
		RunOnStart: true,
		Func: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("startup task did not run")
	}

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestScheduler_TimeoutBoundsTask(t *testing.T) {
	s := newTestScheduler(t)
	result := make(chan error, 1)
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:      "slow",
		Name:    "Slow",
		Cron:    "0 0 1 1 *",
		Timeout: 20 * time.Millisecond,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			result <- ctx.Err()
			return ctx.Err()
		},
	}))
	s.Start()
	defer func() { _ = s.Stop() }()

	require.NoError(t, s.RunNow("slow"))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout not applied")
	}
}

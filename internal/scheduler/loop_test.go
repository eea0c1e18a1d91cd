package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/state"
)

type fakeSettings struct {
	mu       sync.Mutex
	interval string
	next     []time.Time
}

func (f *fakeSettings) LoadSettings(context.Context) (*state.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &state.Settings{SyncInterval: f.interval, SyncTime: "00:00", SyncDay: "Monday", SyncDate: 1}, nil
}

func (f *fakeSettings) SetNextSync(_ context.Context, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = append(f.next, at)
	return nil
}

func (f *fakeSettings) setInterval(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = v
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []state.Trigger
	err    error
	onCall func(n int)
	called chan struct{}
}

func (f *fakeRunner) Run(_ context.Context, trigger state.Trigger) (*state.Run, error) {
	f.mu.Lock()
	f.calls = append(f.calls, trigger)
	n := len(f.calls)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(n)
	}
	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &state.Run{ID: "run", Status: state.RunCompleted}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func startLoop(t *testing.T, l *Loop) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop after cancellation")
		}
	}
}

func TestLoop_ReloadsIntervalEachTick(t *testing.T) {
	settings := &fakeSettings{interval: "20ms"}
	runner := &fakeRunner{}
	runner.onCall = func(n int) {
		if n == 1 {
			settings.setInterval("1h")
		}
	}

	stop := startLoop(t, NewLoop(runner, settings, true, zerolog.Nop()))
	time.Sleep(300 * time.Millisecond)
	stop()

	// First tick ran with 20ms, second tick picked up 1h and is now waiting.
	assert.Equal(t, 2, runner.count())
	for _, trig := range runner.calls {
		assert.Equal(t, state.TriggerScheduled, trig)
	}

	settings.mu.Lock()
	defer settings.mu.Unlock()
	require.Len(t, settings.next, 2)
	assert.Greater(t, settings.next[1].Sub(settings.next[0]), 30*time.Minute)
}

func TestLoop_SyncInProgressDoesNotStopLoop(t *testing.T) {
	settings := &fakeSettings{interval: "10ms"}
	runner := &fakeRunner{err: state.ErrSyncInProgress, called: make(chan struct{}, 1)}

	stop := startLoop(t, NewLoop(runner, settings, true, zerolog.Nop()))
	for i := 0; i < 3; i++ {
		select {
		case <-runner.called:
		case <-time.After(2 * time.Second):
			t.Fatalf("runner called %d times, want at least 3", runner.count())
		}
	}
	stop()
}

func TestLoop_WaitsWithoutRunOnStart(t *testing.T) {
	settings := &fakeSettings{interval: "1h"}
	runner := &fakeRunner{}

	stop := startLoop(t, NewLoop(runner, settings, false, zerolog.Nop()))
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Zero(t, runner.count())
}

func TestLoop_InvalidScheduleFallsBack(t *testing.T) {
	settings := &fakeSettings{interval: "sometimes"}
	runner := &fakeRunner{}
	ticks := make(chan time.Time, 1)

	l := NewLoop(runner, settings, false, zerolog.Nop())
	l.onTick = func(next time.Time) { ticks <- next }
	before := time.Now()
	stop := startLoop(t, l)
	defer stop()

	select {
	case next := <-ticks:
		assert.True(t, next.After(before))
		assert.LessOrEqual(t, next.Sub(before), 6*time.Hour)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick")
	}
}

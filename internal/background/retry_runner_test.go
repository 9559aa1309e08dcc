package background

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/petguard/internal/services"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

type schedulerFunc func(ctx context.Context) (*services.RunSummary, error)

func (f schedulerFunc) Run(ctx context.Context) (*services.RunSummary, error) { return f(ctx) }

func TestRetryRunner_RunsOnEachTick(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testNow)
	runs := make(chan time.Time, 4)
	calls := 0
	scheduler := schedulerFunc(func(ctx context.Context) (*services.RunSummary, error) {
		calls++
		runs <- fc.Now()
		if calls == 1 {
			return nil, errors.New("store unavailable")
		}
		return &services.RunSummary{Selected: 1, Succeeded: 1}, nil
	})

	runner := NewRetryRunner(scheduler, time.Minute, fc, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	// Nothing runs until the first tick
	assert.NoError(t, fc.BlockUntilContext(ctx, 1))
	assert.Empty(t, runs)

	fc.Advance(time.Minute)
	assert.True(t, testNow.Add(time.Minute).Equal(waitFor(t, runs)))

	// A failed run does not stop the runner
	fc.Advance(time.Minute)
	assert.True(t, testNow.Add(2*time.Minute).Equal(waitFor(t, runs)))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestRetryRunner_Stop(t *testing.T) {
	fc := clockwork.NewFakeClockAt(testNow)
	runner := NewRetryRunner(schedulerFunc(func(ctx context.Context) (*services.RunSummary, error) {
		return &services.RunSummary{}, nil
	}), time.Minute, fc, testLogger())

	done := make(chan struct{})
	go func() {
		runner.Start(context.Background())
		close(done)
	}()

	runner.Stop()
	runner.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}

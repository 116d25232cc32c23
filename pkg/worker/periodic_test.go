package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/classpilot/school-api/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel})
}

func TestPeriodicRunsUntilCancelled(t *testing.T) {
	var runs int64
	p := &Periodic{
		Name:     "test",
		Interval: 5 * time.Millisecond,
		Task: func(ctx context.Context) error {
			atomic.AddInt64(&runs, 1)
			return nil
		},
		Logger: testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic task did not stop on cancel")
	}
}

func TestPeriodicSurvivesErrorsAndPanics(t *testing.T) {
	var runs int64
	p := &Periodic{
		Name:       "flaky",
		Interval:   time.Millisecond,
		MaxBackoff: 2 * time.Millisecond,
		Task: func(ctx context.Context) error {
			n := atomic.AddInt64(&runs, 1)
			switch n {
			case 1:
				return errors.New("transient")
			case 2:
				panic("boom")
			}
			return nil
		},
		Logger: testLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// The loop must keep running past both the error and the panic.
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&runs) >= 4
	}, time.Second, time.Millisecond)
}

func TestBackoffCaps(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	assert.Equal(t, time.Second, backoff(base, max, 1))
	assert.Equal(t, 2*time.Second, backoff(base, max, 2))
	assert.Equal(t, 4*time.Second, backoff(base, max, 3))
	assert.Equal(t, 8*time.Second, backoff(base, max, 4))
	assert.Equal(t, 8*time.Second, backoff(base, max, 10))
}

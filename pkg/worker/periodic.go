package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/classpilot/school-api/pkg/logger"
)

// Periodic runs a task on a fixed interval until the context is cancelled.
// Each sweep is isolated: a panic or error in one iteration is logged and the
// loop keeps going, with consecutive failures backing the interval off
// (doubling, capped at MaxBackoff) so a broken dependency cannot hot-loop.
// The dispatch and scheduler sweeps run as two independent Periodic tasks so
// a crash in one never stops the other.
type Periodic struct {
	Name       string
	Interval   time.Duration
	MaxBackoff time.Duration
	Task       func(ctx context.Context) error
	Logger     *logger.Logger
}

// Run blocks until ctx is cancelled.
func (p *Periodic) Run(ctx context.Context) {
	if p.Interval <= 0 {
		panic(fmt.Sprintf("periodic task %q: interval must be positive", p.Name))
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff < p.Interval {
		maxBackoff = p.Interval
	}

	p.Logger.Info("periodic task started", "task", p.Name, "interval", p.Interval.String())

	delay := p.Interval
	failures := 0
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("periodic task stopped", "task", p.Name)
			return
		case <-timer.C:
		}

		if err := p.runOnce(ctx); err != nil {
			failures++
			delay = backoff(p.Interval, maxBackoff, failures)
			p.Logger.Error(err, "periodic task iteration failed",
				"task", p.Name, "consecutive_failures", failures, "next_in", delay.String())
		} else {
			failures = 0
			delay = p.Interval
		}

		timer.Reset(delay)
	}
}

func (p *Periodic) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.Task(ctx)
}

func backoff(base, max time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

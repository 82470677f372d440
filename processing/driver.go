package processing

import (
	"context"
	"time"
)

// Driver decides when the next tick runs. Wait blocks until the tick is due
// or ctx is done. The loop never calls Wait concurrently.
type Driver interface {
	Wait(ctx context.Context) error
}

// TickerDriver paces ticks at a fixed interval. When a tick overruns the
// missed slots are dropped rather than run back to back.
type TickerDriver struct {
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

// NewTickerDriver creates a driver ticking every interval.
func NewTickerDriver(interval time.Duration) *TickerDriver {
	return &TickerDriver{interval: interval, now: time.Now}
}

func (d *TickerDriver) Wait(ctx context.Context) error {
	now := d.now()
	if d.next.IsZero() {
		d.next = now
	}
	d.next = d.next.Add(d.interval)
	if d.next.Before(now) {
		d.next = now
	}

	timer := time.NewTimer(d.next.Sub(now))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FreeRunDriver runs ticks back to back, for offline processing where the
// source paces itself.
type FreeRunDriver struct{}

func (FreeRunDriver) Wait(ctx context.Context) error {
	return ctx.Err()
}

// ManualDriver runs one tick per Step call.
type ManualDriver struct {
	steps chan struct{}
}

// NewManualDriver creates a driver that waits for Step.
func NewManualDriver() *ManualDriver {
	return &ManualDriver{steps: make(chan struct{})}
}

// Step releases one tick. It blocks until the loop is waiting for it, which
// also means every previously released tick has finished.
func (d *ManualDriver) Step(ctx context.Context) error {
	select {
	case d.steps <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *ManualDriver) Wait(ctx context.Context) error {
	select {
	case <-d.steps:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

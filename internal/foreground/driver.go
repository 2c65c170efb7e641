// Package foreground runs the low-latency delivery path: a single timer
// armed for the soonest pending entry.
package foreground

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/delivery"
)

const (
	defaultMaxSleep   = 60 * time.Second
	defaultRetryDelay = 30 * time.Second
)

// Engine is the part of delivery.Engine the driver needs.
type Engine interface {
	Sweep(ctx context.Context) (delivery.SweepResult, error)
	NextDue(ctx context.Context) (time.Time, bool, error)
	Now() time.Time
}

type Config struct {
	// MaxSleep caps every timer so entries written by the other process and
	// wall-clock jumps are picked up without a Reschedule.
	MaxSleep time.Duration
	// RetryDelay is the wait after a sweep that left entries due, such as
	// failed displays or a denied permission.
	RetryDelay time.Duration
}

// Driver sleeps until the soonest pending entry is due, sweeps, and re-arms.
// Sweeps run on the driver goroutine only, so they never overlap.
type Driver struct {
	engine     Engine
	maxSleep   time.Duration
	retryDelay time.Duration
	wake       chan struct{}
	logger     *zap.Logger
}

func New(engine Engine, cfg Config, logger *zap.Logger) *Driver {
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = defaultMaxSleep
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RetryDelay > cfg.MaxSleep {
		cfg.RetryDelay = cfg.MaxSleep
	}
	return &Driver{
		engine:     engine,
		maxSleep:   cfg.MaxSleep,
		retryDelay: cfg.RetryDelay,
		wake:       make(chan struct{}, 1),
		logger:     logger.With(zap.String("driver", "foreground")),
	}
}

// Reschedule re-arms the timer after the schedule changed. It never blocks;
// calls made while a re-arm is already queued collapse into it.
func (d *Driver) Reschedule() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done.
func (d *Driver) Run(ctx context.Context) {
	d.logger.Info("foreground driver started", zap.Duration("max_sleep", d.maxSleep))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	arm := func(afterSweep bool) <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(d.sleepFor(ctx, afterSweep))
		return timer.C
	}

	timerCh := arm(false)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("foreground driver stopping")
			return

		case <-d.wake:
			timerCh = arm(false)

		case <-timerCh:
			d.sweep(ctx)
			timerCh = arm(true)
		}
	}
}

// sleepFor returns the time until the soonest pending entry, capped at
// maxSleep. Right after a sweep an entry that is still due waits retryDelay.
func (d *Driver) sleepFor(ctx context.Context, afterSweep bool) time.Duration {
	next, ok, err := d.engine.NextDue(ctx)
	if err != nil {
		d.logger.Warn("failed to read next due entry", zap.Error(err))
		return d.maxSleep
	}
	if !ok {
		return d.maxSleep
	}

	dur := next.Sub(d.engine.Now())
	if dur > d.maxSleep {
		dur = d.maxSleep
	}
	if dur <= 0 {
		dur = 0
		if afterSweep {
			dur = d.retryDelay
		}
	}
	d.logger.Debug("timer armed", zap.Time("next_due", next), zap.Duration("sleep", dur))
	return dur
}

func (d *Driver) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("sweep panicked", zap.Any("panic", r))
		}
	}()

	if _, err := d.engine.Sweep(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("sweep failed", zap.Error(err))
	}
}

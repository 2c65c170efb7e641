// Package delivery decides, for each due entry, whether to display it now or
// defer it past quiet hours, and performs the display.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/metrics"
	"github.com/lalithlochan/vigil/internal/schedule"
)

// Config holds engine settings.
type Config struct {
	// Driver labels logs and metrics ("foreground" or "background").
	Driver string
	// Location is the user's timezone; quiet hours and daily reminders are
	// evaluated in it. Defaults to time.Local.
	Location *time.Location
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine runs delivery sweeps against the shared store.
type Engine struct {
	store      db.Store
	notifier   Notifier
	permission PermissionSource
	cfg        Config
	logger     *zap.Logger
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Skipped   bool `json:"skipped"` // permission not granted
	Pending   int  `json:"pending"`
	Displayed int  `json:"displayed"`
	Postponed int  `json:"postponed"`
	Failed    int  `json:"failed"`
	Chained   int  `json:"chained"`
}

func New(store db.Store, notifier Notifier, permission PermissionSource, cfg Config, logger *zap.Logger) *Engine {
	if cfg.Driver == "" {
		cfg.Driver = "foreground"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:      store,
		notifier:   notifier,
		permission: permission,
		cfg:        cfg,
		logger:     logger.With(zap.String("driver", cfg.Driver)),
	}
}

// Now returns the engine clock in the user's timezone.
func (e *Engine) Now() time.Time {
	return e.cfg.Now().In(e.cfg.Location)
}

// Sweep evaluates every pending entry due at the current time. Per-entry
// failures are logged and leave the entry for a later sweep; only a failure
// to read the schedule is returned.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	res, err := e.sweep(ctx)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case res.Skipped:
		outcome = "skipped"
	}
	metrics.RecordSweep(e.cfg.Driver, outcome, time.Since(start))
	return res, err
}

func (e *Engine) sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	p, err := e.permission.Permission(ctx)
	if err != nil {
		return res, fmt.Errorf("read notification permission: %w", err)
	}
	if p != PermissionGranted {
		e.logger.Debug("sweep skipped: notification permission not granted",
			zap.String("permission", string(p)),
		)
		res.Skipped = true
		return res, nil
	}

	now := e.Now()
	pending, err := e.store.GetPending(ctx)
	if err != nil {
		return res, fmt.Errorf("load pending notifications: %w", err)
	}
	res.Pending = len(pending)
	metrics.SetPendingEntries(len(pending))

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ScheduleTime.Before(pending[j].ScheduleTime)
	})

	for _, entry := range pending {
		if !entry.Due(now) {
			// sorted, so nothing after this is due either
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.deliver(ctx, entry, now, &res); errors.Is(err, ErrPermission) {
			e.logger.Warn("notification permission revoked mid-sweep", zap.Error(err))
			break
		}
	}

	if res.Displayed > 0 || res.Postponed > 0 || res.Failed > 0 {
		e.logger.Info("sweep finished",
			zap.Int("pending", res.Pending),
			zap.Int("displayed", res.Displayed),
			zap.Int("postponed", res.Postponed),
			zap.Int("failed", res.Failed),
			zap.Int("chained", res.Chained),
		)
	}
	return res, nil
}

// deliver handles one due entry. The returned error is informational; it is
// already logged.
func (e *Engine) deliver(ctx context.Context, entry *db.ScheduledNotification, now time.Time, res *SweepResult) error {
	log := e.logger.With(
		zap.String("notification_id", entry.ID),
		zap.String("type", string(entry.Type)),
	)

	window, quiet, err := schedule.WindowOf(entry.Settings)
	if err != nil {
		log.Warn("ignoring malformed quiet hours", zap.Error(err))
	}
	if quiet && window.Contains(now) {
		entry.ScheduleTime = window.EndAfter(now)
		if err := e.store.Put(ctx, entry); err != nil {
			res.Failed++
			log.Error("failed to postpone notification", zap.Error(err))
			return err
		}
		res.Postponed++
		metrics.RecordPostponed(string(entry.Type))
		log.Info("notification postponed for quiet hours",
			zap.Time("schedule_time", entry.ScheduleTime),
		)
		return nil
	}

	if err := e.notifier.Notify(ctx, DisplayOf(entry)); err != nil {
		res.Failed++
		metrics.RecordDisplayFailure(string(entry.Type))
		if !errors.Is(err, ErrPermission) {
			err = fmt.Errorf("%w: %w", ErrDisplay, err)
		}
		log.Error("failed to display notification", zap.Error(err))
		return err
	}

	sentAt := now
	if sentAt.Before(entry.CreatedAt) {
		sentAt = entry.CreatedAt
	}
	lateness := now.Sub(entry.ScheduleTime)
	entry.MarkSent(sentAt)
	if err := e.store.Put(ctx, entry); err != nil {
		// Displayed but still pending in the store; the next sweep shows it again.
		res.Failed++
		metrics.RecordMarkSentFailure(string(entry.Type))
		log.Error("failed to mark notification sent", zap.Error(err))
		return err
	}
	res.Displayed++
	metrics.RecordDisplayed(e.cfg.Driver, string(entry.Type), lateness)
	log.Info("notification displayed", zap.Duration("lateness", lateness))

	if entry.Type.Recurring() {
		if err := e.chain(ctx, entry, now); err != nil {
			log.Error("failed to schedule next daily reminder", zap.Error(err))
			return err
		}
		res.Chained++
	}
	return nil
}

func (e *Engine) chain(ctx context.Context, fired *db.ScheduledNotification, now time.Time) error {
	next, err := schedule.NextDailyEntry(fired, now)
	if err != nil {
		return err
	}
	if err := e.store.Put(ctx, next); err != nil {
		return err
	}
	e.logger.Info("next daily reminder scheduled",
		zap.String("notification_id", next.ID),
		zap.Time("schedule_time", next.ScheduleTime),
	)
	return nil
}

// NextDue returns the soonest schedule_time among pending entries.
func (e *Engine) NextDue(ctx context.Context) (time.Time, bool, error) {
	pending, err := e.store.GetPending(ctx)
	if err != nil {
		return time.Time{}, false, err
	}

	var (
		next  time.Time
		found bool
	)
	for _, n := range pending {
		if !found || n.ScheduleTime.Before(next) {
			next, found = n.ScheduleTime, true
		}
	}
	return next, found, nil
}

// Package worker is the background delivery path. It wakes periodically, on
// push or sync callbacks and on control messages, and runs the same sweep as
// the foreground driver followed by an opportunistic cleanup.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/control"
	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/metrics"
)

// Wake reasons.
const (
	ReasonStartup  = "startup"
	ReasonPeriodic = "periodic"
	ReasonPush     = "push"
	ReasonSync     = "sync"
	ReasonMessage  = "message"
)

type Engine interface {
	Sweep(ctx context.Context) (delivery.SweepResult, error)
}

type Cleaner interface {
	CleanupOldNotifications(ctx context.Context, retention time.Duration) (int, error)
}

type Config struct {
	WakeInterval time.Duration
	Retention    time.Duration
}

type Worker struct {
	store   db.Store
	engine  Engine
	cleaner Cleaner
	config  Config
	logger  *zap.Logger

	// mu keeps wakes strictly sequential.
	mu sync.Mutex
}

// WakeResult reports what one wake did.
type WakeResult struct {
	Reason  string               `json:"reason"`
	Sweep   delivery.SweepResult `json:"sweep"`
	Cleaned int                  `json:"cleaned"`
}

var _ control.Handler = (*Worker)(nil)

func New(store db.Store, engine Engine, cleaner Cleaner, cfg Config, logger *zap.Logger) *Worker {
	if cfg.WakeInterval == 0 {
		cfg.WakeInterval = 15 * time.Minute
	}
	if cfg.Retention == 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}

	return &Worker{
		store:   store,
		engine:  engine,
		cleaner: cleaner,
		config:  cfg,
		logger:  logger.With(zap.String("driver", "background")),
	}
}

// Start wakes once immediately and then on every tick until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.WakeInterval)
	defer ticker.Stop()

	w.logger.Info("background worker started", zap.Duration("wake_interval", w.config.WakeInterval))
	w.wakeAndLog(ctx, ReasonStartup)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			w.wakeAndLog(ctx, ReasonPeriodic)
		}
	}
}

func (w *Worker) wakeAndLog(ctx context.Context, reason string) {
	if _, err := w.Wake(ctx, reason); err != nil && ctx.Err() == nil {
		w.logger.Error("wake failed", zap.String("reason", reason), zap.Error(err))
	}
}

// Wake runs one sweep and one cleanup. Concurrent calls queue behind each
// other. A cleanup failure is logged and does not fail the wake.
func (w *Worker) Wake(ctx context.Context, reason string) (res WakeResult, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("wake panicked", zap.String("reason", reason), zap.Any("panic", r))
			err = fmt.Errorf("wake %s panicked: %v", reason, r)
		}
	}()

	metrics.RecordWake(reason)
	res.Reason = reason
	w.logger.Debug("background wake", zap.String("reason", reason))

	res.Sweep, err = w.engine.Sweep(ctx)
	if err != nil {
		return res, err
	}

	cleaned, cerr := w.cleaner.CleanupOldNotifications(ctx, w.config.Retention)
	if cerr != nil {
		w.logger.Warn("cleanup failed", zap.Error(cerr))
	}
	res.Cleaned = cleaned
	return res, nil
}

// HandleMessage applies a control message from the foreground process.
func (w *Worker) HandleMessage(ctx context.Context, m control.Message) error {
	log := w.logger.With(zap.String("kind", string(m.Kind)))

	switch m.Kind {
	case control.KindScheduleNotification:
		live, err := w.live(ctx, m.Entry)
		if err != nil {
			return err
		}
		if !live {
			log.Debug("dropping schedule message for superseded, cancelled or sent entry",
				zap.String("notification_id", m.Entry.ID),
			)
			return nil
		}
		log.Info("scheduled notification received", zap.String("notification_id", m.Entry.ID))
		_, err = w.Wake(ctx, ReasonMessage)
		return err

	case control.KindCancelNotifications:
		if err := w.store.DeleteByType(ctx, m.Type); err != nil {
			return fmt.Errorf("cancel %s notifications: %w", m.Type, err)
		}
		log.Info("notifications cancelled", zap.String("type", string(m.Type)))
		return nil

	case control.KindTriggerBackgroundCheck:
		_, err := w.Wake(ctx, ReasonMessage)
		return err

	default:
		return fmt.Errorf("%w: unknown kind %q", control.ErrInvalidMessage, m.Kind)
	}
}

// live reports whether entry is still pending in the store. The foreground
// persists an entry before announcing it, so the stored copy is authoritative:
// a missing record was superseded or cancelled after the message was sent and
// must not be written back.
func (w *Worker) live(ctx context.Context, entry *db.ScheduledNotification) (bool, error) {
	if entry == nil {
		return false, errors.New("schedule message without entry")
	}

	existing, err := w.store.GetByType(ctx, entry.Type)
	if err != nil {
		return false, fmt.Errorf("look up %s: %w", entry.ID, err)
	}
	for _, n := range existing {
		if n.ID == entry.ID {
			return !n.Sent, nil
		}
	}
	return false, nil
}

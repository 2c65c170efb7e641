// Package reminder is the surface the application calls when the user
// changes notification settings or asks what is scheduled.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/control"
	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
	"github.com/lalithlochan/vigil/internal/schedule"
)

// Rearmer is the foreground driver's re-arm hook.
type Rearmer interface {
	Reschedule()
}

type Config struct {
	// Location is the user's timezone. Defaults to time.Local.
	Location *time.Location
	Now      func() time.Time
}

// Service writes schedule changes to the store, re-arms the foreground timer
// and tells the background worker. Messages to the worker are best effort.
type Service struct {
	store      db.Store
	publisher  control.Publisher
	rearm      Rearmer
	permission *delivery.PermissionGate
	cfg        Config
	logger     *zap.Logger
}

func New(store db.Store, publisher control.Publisher, rearm Rearmer, permission *delivery.PermissionGate, cfg Config, logger *zap.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if publisher == nil {
		publisher = control.Discard{}
	}
	return &Service{
		store:      store,
		publisher:  publisher,
		rearm:      rearm,
		permission: permission,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *Service) now() time.Time {
	return s.cfg.Now().In(s.cfg.Location)
}

// ScheduleNextReminder persists the next daily reminder for settings and
// supersedes any pending one. With the daily reminder disabled it cancels
// instead and returns a nil entry.
func (s *Service) ScheduleNextReminder(ctx context.Context, settings schedule.UserSettings) (*db.ScheduledNotification, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if !settings.DailyReminder {
		return nil, s.CancelDailyReminder(ctx)
	}

	entry, err := schedule.BuildDailyReminderEntry(settings.DailyReminderTime, settings.Quiet(), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.schedule(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("daily reminder scheduled",
		zap.String("notification_id", entry.ID),
		zap.Time("schedule_time", entry.ScheduleTime),
	)
	return entry, nil
}

// CancelDailyReminder deletes every daily reminder and re-arms the timer.
func (s *Service) CancelDailyReminder(ctx context.Context) error {
	return s.CancelType(ctx, db.TypeDailyReminder)
}

// CancelType deletes every entry of type t. A display already in flight is
// not retracted.
func (s *Service) CancelType(ctx context.Context, t db.NotificationType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unsupported type %q", schedule.ErrInvalidEntry, t)
	}
	if err := s.store.DeleteByType(ctx, t); err != nil {
		return fmt.Errorf("cancel %s notifications: %w", t, err)
	}

	s.rearmForeground()
	s.publish(ctx, control.CancelNotifications(t))
	s.logger.Info("notifications cancelled", zap.String("type", string(t)))
	return nil
}

// ScheduleOneShot persists a single mission or custom notification.
func (s *Service) ScheduleOneShot(ctx context.Context, req schedule.OneShot, quiet schedule.QuietHours) (*db.ScheduledNotification, error) {
	entry, err := schedule.BuildOneShotEntry(req, quiet, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.schedule(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("notification scheduled",
		zap.String("notification_id", entry.ID),
		zap.String("type", string(entry.Type)),
		zap.Time("schedule_time", entry.ScheduleTime),
	)
	return entry, nil
}

// SendTestNotification schedules an admin test entry a few seconds out.
// Without permission it fails with delivery.ErrPermission so the user can be
// asked to enable notifications.
func (s *Service) SendTestNotification(ctx context.Context) (*db.ScheduledNotification, error) {
	if err := s.permission.Require(ctx); err != nil {
		return nil, err
	}

	entry := schedule.BuildTestEntry(s.now())
	if err := s.schedule(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// TriggerBackgroundCheck asks the worker for an immediate sweep.
func (s *Service) TriggerBackgroundCheck(ctx context.Context) {
	s.publish(ctx, control.TriggerBackgroundCheck())
}

// GetScheduledNotifications returns every stored entry ordered by schedule time.
func (s *Service) GetScheduledNotifications(ctx context.Context) ([]*db.ScheduledNotification, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	sortBySchedule(all)
	return all, nil
}

// GetPendingNotifications returns unsent entries ordered by schedule time.
func (s *Service) GetPendingNotifications(ctx context.Context) ([]*db.ScheduledNotification, error) {
	pending, err := s.store.GetPending(ctx)
	if err != nil {
		return nil, err
	}
	sortBySchedule(pending)
	return pending, nil
}

// Permission returns the shared platform permission state.
func (s *Service) Permission(ctx context.Context) (delivery.Permission, error) {
	return s.permission.Permission(ctx)
}

// SetPermission records the platform permission state for both processes.
// Granting it re-arms the foreground timer and asks the worker for a sweep so
// entries held back by a missing permission fire.
func (s *Service) SetPermission(ctx context.Context, p delivery.Permission) error {
	prev, err := s.permission.Permission(ctx)
	if err != nil {
		s.logger.Warn("failed to read previous notification permission", zap.Error(err))
	}
	if err := s.permission.Set(ctx, p); err != nil {
		return fmt.Errorf("record permission %s: %w", p, err)
	}
	if prev == p {
		return nil
	}

	s.logger.Info("notification permission changed",
		zap.String("from", string(prev)),
		zap.String("to", string(p)),
	)
	if p == delivery.PermissionGranted {
		s.rearmForeground()
		s.publish(ctx, control.TriggerBackgroundCheck())
	}
	return nil
}

// schedule writes entry, drops pending entries it supersedes, re-arms the
// timer and tells the worker.
func (s *Service) schedule(ctx context.Context, entry *db.ScheduledNotification) error {
	if err := s.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("store %s: %w", entry.ID, err)
	}
	if err := s.supersede(ctx, entry); err != nil {
		s.logger.Warn("failed to remove superseded notifications",
			zap.String("notification_id", entry.ID),
			zap.Error(err),
		)
	}

	s.rearmForeground()
	s.publish(ctx, control.ScheduleNotification(entry))
	return nil
}

// supersede deletes other pending entries of the same type and tag.
func (s *Service) supersede(ctx context.Context, entry *db.ScheduledNotification) error {
	if entry.Tag == "" {
		return nil
	}
	same, err := s.store.GetByType(ctx, entry.Type)
	if err != nil {
		return err
	}
	for _, n := range same {
		if n.ID == entry.ID || n.Sent || n.Tag != entry.Tag {
			continue
		}
		if err := s.store.Delete(ctx, n.ID); err != nil {
			return err
		}
		s.logger.Debug("superseded pending notification", zap.String("notification_id", n.ID))
	}
	return nil
}

func (s *Service) rearmForeground() {
	if s.rearm != nil {
		s.rearm.Reschedule()
	}
}

func (s *Service) publish(ctx context.Context, m control.Message) {
	if err := s.publisher.Publish(ctx, m); err != nil {
		s.logger.Warn("failed to notify background worker",
			zap.String("kind", string(m.Kind)),
			zap.Error(err),
		)
	}
}

func sortBySchedule(ns []*db.ScheduledNotification) {
	sort.SliceStable(ns, func(i, j int) bool {
		return ns[i].ScheduleTime.Before(ns[j].ScheduleTime)
	})
}

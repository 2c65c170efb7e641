// Package cleanup bounds the schedule store by removing old sent entries.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/metrics"
)

// DefaultRetention is how long a sent entry is kept.
const DefaultRetention = 7 * 24 * time.Hour

type Sweeper struct {
	store  db.Store
	now    func() time.Time
	logger *zap.Logger
}

func New(store db.Store, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, now: time.Now, logger: logger}
}

// WithClock returns a copy of s that reads time from now.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	c := *s
	c.now = now
	return &c
}

// CleanupOldNotifications deletes entries that were sent more than retention
// ago. A failed delete is logged and retried on the next run.
func (s *Sweeper) CleanupOldNotifications(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	all, err := s.store.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load notifications for cleanup: %w", err)
	}

	now := s.now()
	deleted := 0
	for _, n := range all {
		if !expired(n, now, retention) {
			continue
		}
		if err := s.store.Delete(ctx, n.ID); err != nil {
			s.logger.Warn("failed to delete old notification",
				zap.String("notification_id", n.ID),
				zap.Error(err),
			)
			continue
		}
		deleted++
	}

	metrics.RecordCleanupDeleted(deleted)
	if deleted > 0 {
		s.logger.Info("old notifications removed",
			zap.Int("deleted", deleted),
			zap.Duration("retention", retention),
		)
	}
	return deleted, nil
}

func expired(n *db.ScheduledNotification, now time.Time, retention time.Duration) bool {
	return n.Sent && n.SentAt != nil && now.Sub(*n.SentAt) > retention
}

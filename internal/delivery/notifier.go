package delivery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
)

// ErrDisplay wraps every failure of the display primitive.
var ErrDisplay = errors.New("notification display failed")

// Display is what the platform notification API receives. Every field is
// taken verbatim from the scheduled entry.
type Display struct {
	ID                 string              `json:"id"`
	Type               db.NotificationType `json:"type"`
	Title              string              `json:"title"`
	Body               string              `json:"body"`
	Tag                string              `json:"tag,omitempty"`
	RequireInteraction bool                `json:"require_interaction"`
	Data               map[string]string   `json:"data,omitempty"`
}

// DisplayOf builds the display payload for n.
func DisplayOf(n *db.ScheduledNotification) Display {
	return Display{
		ID:                 n.ID,
		Type:               n.Type,
		Title:              n.Title,
		Body:               n.Body,
		Tag:                n.Tag,
		RequireInteraction: n.RequireInteraction,
		Data:               n.Data,
	}
}

// Notifier is the display primitive. Implementations: log, webhook, SNS, SES.
type Notifier interface {
	Notify(ctx context.Context, d Display) error
	Supports(t db.NotificationType) bool
}

// MultiNotifier routes a display to the first notifier that supports its type.
type MultiNotifier struct {
	notifiers []Notifier
	logger    *zap.Logger
}

func NewMultiNotifier(logger *zap.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers, logger: logger}
}

func (m *MultiNotifier) Notify(ctx context.Context, d Display) error {
	for _, n := range m.notifiers {
		if n.Supports(d.Type) {
			m.logger.Debug("routing notification",
				zap.String("notification_id", d.ID),
				zap.String("type", string(d.Type)),
			)
			return n.Notify(ctx, d)
		}
	}
	return fmt.Errorf("no notifier for type %s", d.Type)
}

func (m *MultiNotifier) Supports(t db.NotificationType) bool {
	for _, n := range m.notifiers {
		if n.Supports(t) {
			return true
		}
	}
	return false
}

// LogNotifier logs displays instead of showing them (development).
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, d Display) error {
	l.logger.Info("displaying notification (development mode)",
		zap.String("notification_id", d.ID),
		zap.String("type", string(d.Type)),
		zap.String("title", d.Title),
		zap.String("tag", d.Tag),
		zap.Bool("require_interaction", d.RequireInteraction),
		zap.Any("data", d.Data),
	)
	return nil
}

func (l *LogNotifier) Supports(t db.NotificationType) bool {
	return t.Valid()
}

// typeSet limits a notifier to some notification types; empty means all.
type typeSet []db.NotificationType

func (s typeSet) has(t db.NotificationType) bool {
	if !t.Valid() {
		return false
	}
	if len(s) == 0 {
		return true
	}
	for _, x := range s {
		if x == t {
			return true
		}
	}
	return false
}

package db

import (
	"context"
	"time"
)

// NotificationType is the closed set of notification kinds.
type NotificationType string

// Notification type constants
const (
	TypeDailyReminder   NotificationType = "daily-reminder"
	TypeMissionDeadline NotificationType = "mission-deadline"
	TypeMissionReminder NotificationType = "mission-reminder"
	TypeAdminTest       NotificationType = "admin-test"
	TypeCustom          NotificationType = "custom"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeDailyReminder, TypeMissionDeadline, TypeMissionReminder, TypeAdminTest, TypeCustom:
		return true
	default:
		return false
	}
}

// Recurring reports whether a fired entry of this type is followed by a
// new entry for the next day.
func (t NotificationType) Recurring() bool {
	return t == TypeDailyReminder
}

// Settings is the quiet-hours snapshot captured when an entry is created.
// ReminderTime is set on daily entries so the chain can be continued.
type Settings struct {
	QuietHours   bool   `json:"quiet_hours"`
	QuietStart   string `json:"quiet_start,omitempty"`
	QuietEnd     string `json:"quiet_end,omitempty"`
	ReminderTime string `json:"reminder_time,omitempty"`
}

// ScheduledNotification is a persisted future-or-past notification.
type ScheduledNotification struct {
	ID                 string            `json:"id"`
	Type               NotificationType  `json:"type"`
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	ScheduleTime       time.Time         `json:"schedule_time"`
	Tag                string            `json:"tag,omitempty"`
	RequireInteraction bool              `json:"require_interaction"`
	Sent               bool              `json:"sent"`
	SentAt             *time.Time        `json:"sent_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	Data               map[string]string `json:"data,omitempty"`
	Settings           Settings          `json:"settings"`
}

// Due reports whether the entry is pending and its fire time has arrived.
func (n *ScheduledNotification) Due(now time.Time) bool {
	return !n.Sent && !n.ScheduleTime.After(now)
}

// MarkSent moves the entry to its terminal state. Calling it on an entry
// that is already sent keeps the original SentAt.
func (n *ScheduledNotification) MarkSent(at time.Time) {
	if n.Sent {
		return
	}
	n.Sent = true
	n.SentAt = &at
}

// Store is the durable schedule shared by the foreground and background
// drivers. Every mutation is a whole-record upsert keyed by ID.
type Store interface {
	Put(ctx context.Context, n *ScheduledNotification) error
	GetAll(ctx context.Context) ([]*ScheduledNotification, error)
	GetByType(ctx context.Context, t NotificationType) ([]*ScheduledNotification, error)
	GetPending(ctx context.Context) ([]*ScheduledNotification, error)
	Delete(ctx context.Context, id string) error
	DeleteByType(ctx context.Context, t NotificationType) error
}

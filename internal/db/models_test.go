package db

import (
	"errors"
	"testing"
	"time"
)

func TestNotificationType_Valid(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want bool
	}{
		{TypeDailyReminder, true},
		{TypeMissionDeadline, true},
		{TypeMissionReminder, true},
		{TypeAdminTest, true},
		{TypeCustom, true},
		{NotificationType("weekly-digest"), false},
		{NotificationType(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.Valid(); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}

func TestNotificationType_OnlyDailyReminderRecurs(t *testing.T) {
	for _, typ := range []NotificationType{TypeMissionDeadline, TypeMissionReminder, TypeAdminTest, TypeCustom} {
		if typ.Recurring() {
			t.Errorf("%s should not recur", typ)
		}
	}
	if !TypeDailyReminder.Recurring() {
		t.Error("daily-reminder should recur")
	}
}

func TestScheduledNotification_Due(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry ScheduledNotification
		want  bool
	}{
		{"past", ScheduledNotification{ScheduleTime: now.Add(-time.Minute)}, true},
		{"exactly now", ScheduledNotification{ScheduleTime: now}, true},
		{"future", ScheduledNotification{ScheduleTime: now.Add(5 * time.Minute)}, false},
		{"already sent", ScheduledNotification{ScheduleTime: now.Add(-time.Minute), Sent: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Due(now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduledNotification_MarkSentIsTerminal(t *testing.T) {
	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n := &ScheduledNotification{ID: "n-1"}

	n.MarkSent(first)
	n.MarkSent(first.Add(time.Hour))

	if !n.Sent {
		t.Fatal("expected sent")
	}
	if n.SentAt == nil || !n.SentAt.Equal(first) {
		t.Fatalf("sent_at = %v, want %v", n.SentAt, first)
	}
}

func TestStorageError_Wraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := StorageError("get all", cause)

	if !errors.Is(err, ErrStorage) {
		t.Error("expected ErrStorage in chain")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
}

package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/vigil/internal/db"
)

const (
	dailyReminderTitle = "Daily Bible Reading"
	dailyReminderBody  = "Take a moment for today's reading."
	dailyReminderURL   = "/"

	testTitle = "Test notification"
	testBody  = "Notifications are working on this device."

	// TestEntryDelay is how far in the future an admin test entry is due.
	TestEntryDelay = 3 * time.Second
)

var (
	// ErrInvalidEntry is returned for one-shot requests missing required fields.
	ErrInvalidEntry = errors.New("invalid notification entry")

	// ErrPastScheduleTime is returned when a one-shot entry is not strictly in the future.
	ErrPastScheduleTime = errors.New("schedule time is not in the future")
)

// UserSettings is the notification part of the user's settings, owned by
// the application and pushed here whenever it changes.
type UserSettings struct {
	DailyReminder     bool   `json:"daily_reminder"`
	DailyReminderTime string `json:"daily_reminder_time"`
	QuietHours        bool   `json:"quiet_hours"`
	QuietStart        string `json:"quiet_start"`
	QuietEnd          string `json:"quiet_end"`
}

// Quiet returns the quiet-hours part of the settings.
func (s UserSettings) Quiet() QuietHours {
	return QuietHours{Enabled: s.QuietHours, Start: s.QuietStart, End: s.QuietEnd}
}

// Validate rejects settings that would produce a malformed entry.
func (s UserSettings) Validate() error {
	if s.DailyReminder {
		if _, err := ParseTimeOfDay(s.DailyReminderTime); err != nil {
			return fmt.Errorf("daily_reminder_time: %w", err)
		}
	}
	return s.Quiet().Validate()
}

// QuietHours is the quiet-hours configuration copied into each entry.
type QuietHours struct {
	Enabled bool
	Start   string
	End     string
}

// Validate checks both bounds when quiet hours are enabled.
func (q QuietHours) Validate() error {
	if !q.Enabled {
		return nil
	}
	if _, err := ParseQuietWindow(q.Start, q.End); err != nil {
		return fmt.Errorf("quiet hours: %w", err)
	}
	return nil
}

func (q QuietHours) snapshot() db.Settings {
	return db.Settings{QuietHours: q.Enabled, QuietStart: q.Start, QuietEnd: q.End}
}

// WindowOf returns the quiet window embedded in an entry, if it is enabled and parses.
func WindowOf(s db.Settings) (QuietWindow, bool, error) {
	if !s.QuietHours {
		return QuietWindow{}, false, nil
	}
	w, err := ParseQuietWindow(s.QuietStart, s.QuietEnd)
	if err != nil {
		return QuietWindow{}, false, err
	}
	return w, true, nil
}

// BuildDailyReminderEntry returns the next daily reminder for timeOfDay.
func BuildDailyReminderEntry(timeOfDay string, quiet QuietHours, now time.Time) (*db.ScheduledNotification, error) {
	tod, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return nil, err
	}
	if err := quiet.Validate(); err != nil {
		return nil, err
	}

	settings := quiet.snapshot()
	settings.ReminderTime = tod.String()

	return &db.ScheduledNotification{
		ID:           fmt.Sprintf("%s-%d", db.TypeDailyReminder, now.UnixMilli()),
		Type:         db.TypeDailyReminder,
		Title:        dailyReminderTitle,
		Body:         dailyReminderBody,
		ScheduleTime: tod.NextAfter(now),
		Tag:          string(db.TypeDailyReminder),
		CreatedAt:    now,
		Data: map[string]string{
			"type": string(db.TypeDailyReminder),
			"url":  dailyReminderURL,
		},
		Settings: settings,
	}, nil
}

// NextDailyEntry builds the entry that follows fired in a daily chain. The ID
// is derived from the next fire time, so two drivers chaining the same entry
// write the same record.
func NextDailyEntry(fired *db.ScheduledNotification, now time.Time) (*db.ScheduledNotification, error) {
	tod, err := ParseTimeOfDay(fired.Settings.ReminderTime)
	if err != nil {
		return nil, fmt.Errorf("continue daily chain from %s: %w", fired.ID, err)
	}

	next := tod.NextAfter(now)
	data := make(map[string]string, len(fired.Data))
	for k, v := range fired.Data {
		data[k] = v
	}

	return &db.ScheduledNotification{
		ID:                 fmt.Sprintf("%s-%d", fired.Type, next.UnixMilli()),
		Type:               fired.Type,
		Title:              fired.Title,
		Body:               fired.Body,
		ScheduleTime:       next,
		Tag:                fired.Tag,
		RequireInteraction: fired.RequireInteraction,
		CreatedAt:          now,
		Data:               data,
		Settings:           fired.Settings,
	}, nil
}

// OneShot describes a single notification at a fixed instant.
type OneShot struct {
	ID                 string              `json:"id,omitempty"`
	Type               db.NotificationType `json:"type"`
	Title              string              `json:"title"`
	Body               string              `json:"body"`
	At                 time.Time           `json:"schedule_time"`
	Tag                string              `json:"tag,omitempty"`
	RequireInteraction bool                `json:"require_interaction"`
	URL                string              `json:"url,omitempty"`
}

// BuildOneShotEntry validates req and returns the entry for it. Daily
// reminders go through BuildDailyReminderEntry instead.
func BuildOneShotEntry(req OneShot, quiet QuietHours, now time.Time) (*db.ScheduledNotification, error) {
	if !req.Type.Valid() || req.Type == db.TypeDailyReminder {
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidEntry, req.Type)
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidEntry)
	}
	if !req.At.After(now) {
		return nil, fmt.Errorf("%w: %s", ErrPastScheduleTime, req.At.Format(time.RFC3339))
	}
	if err := quiet.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = fmt.Sprintf("%s-%s", req.Type, uuid.NewString())
	}

	data := map[string]string{"type": string(req.Type)}
	if req.URL != "" {
		data["url"] = req.URL
	}

	return &db.ScheduledNotification{
		ID:                 id,
		Type:               req.Type,
		Title:              req.Title,
		Body:               req.Body,
		ScheduleTime:       req.At.In(now.Location()),
		Tag:                req.Tag,
		RequireInteraction: req.RequireInteraction,
		CreatedAt:          now,
		Data:               data,
		Settings:           quiet.snapshot(),
	}, nil
}

// BuildTestEntry returns an admin test entry due shortly after now. Test
// entries ignore quiet hours.
func BuildTestEntry(now time.Time) *db.ScheduledNotification {
	return &db.ScheduledNotification{
		ID:                 fmt.Sprintf("%s-%d", db.TypeAdminTest, now.UnixMilli()),
		Type:               db.TypeAdminTest,
		Title:              testTitle,
		Body:               testBody,
		ScheduleTime:       now.Add(TestEntryDelay),
		Tag:                string(db.TypeAdminTest),
		RequireInteraction: true,
		CreatedAt:          now,
		Data:               map[string]string{"type": string(db.TypeAdminTest), "url": "/settings"},
	}
}

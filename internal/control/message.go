// Package control carries fire-and-forget messages from the foreground
// process to the background worker.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lalithlochan/vigil/internal/db"
)

// Kind names a control message.
type Kind string

const (
	KindScheduleNotification   Kind = "SCHEDULE_NOTIFICATION"
	KindCancelNotifications    Kind = "CANCEL_NOTIFICATIONS"
	KindTriggerBackgroundCheck Kind = "TRIGGER_BACKGROUND_CHECK"
)

// ErrInvalidMessage is returned for messages that cannot be acted on.
var ErrInvalidMessage = errors.New("invalid control message")

// Message is the wire format of the control channel.
type Message struct {
	Kind  Kind                      `json:"kind"`
	Entry *db.ScheduledNotification `json:"entry,omitempty"`
	Type  db.NotificationType       `json:"type,omitempty"`
	// SentAt is unix milliseconds at publish time.
	SentAt int64 `json:"sent_at"`
}

func ScheduleNotification(entry *db.ScheduledNotification) Message {
	return Message{Kind: KindScheduleNotification, Entry: entry}
}

func CancelNotifications(t db.NotificationType) Message {
	return Message{Kind: KindCancelNotifications, Type: t}
}

func TriggerBackgroundCheck() Message {
	return Message{Kind: KindTriggerBackgroundCheck}
}

// Validate checks that the message carries what its kind needs.
func (m Message) Validate() error {
	switch m.Kind {
	case KindScheduleNotification:
		if m.Entry == nil || m.Entry.ID == "" {
			return fmt.Errorf("%w: %s without entry", ErrInvalidMessage, m.Kind)
		}
		if !m.Entry.Type.Valid() {
			return fmt.Errorf("%w: entry type %q", ErrInvalidMessage, m.Entry.Type)
		}
	case KindCancelNotifications:
		if !m.Type.Valid() {
			return fmt.Errorf("%w: cancel type %q", ErrInvalidMessage, m.Type)
		}
	case KindTriggerBackgroundCheck:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// Encode stamps SentAt when unset and returns the JSON body.
func Encode(m Message) ([]byte, error) {
	if m.SentAt == 0 {
		m.SentAt = time.Now().UnixMilli()
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal control message: %w", err)
	}
	return body, nil
}

// Decode parses and validates a JSON body.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Publisher posts control messages. There is no acknowledgment.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Handler performs the store operation a message asks for.
type Handler interface {
	HandleMessage(ctx context.Context, m Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, m Message) error {
	return f(ctx, m)
}

// Discard is a Publisher that drops every message. It is used when the
// foreground process runs without a worker.
type Discard struct{}

func (Discard) Publish(context.Context, Message) error { return nil }

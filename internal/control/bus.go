package control

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/metrics"
)

// ErrBusFull is returned when the in-process bus cannot accept a message.
var ErrBusFull = errors.New("control bus is full")

// Bus is an in-process control channel for running both drivers in one
// binary. Publish never blocks.
type Bus struct {
	ch     chan Message
	logger *zap.Logger
}

var _ Publisher = (*Bus)(nil)

func NewBus(size int, logger *zap.Logger) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{ch: make(chan Message, size), logger: logger}
}

func (b *Bus) Publish(_ context.Context, m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	select {
	case b.ch <- m:
		metrics.RecordControlMessage(string(m.Kind), "sent")
		return nil
	default:
		return ErrBusFull
	}
}

// Run delivers messages to h one at a time until ctx is done.
func (b *Bus) Run(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.ch:
			metrics.RecordControlMessage(string(m.Kind), "received")
			if err := h.HandleMessage(ctx, m); err != nil {
				b.logger.Error("failed to handle control message",
					zap.Error(err),
					zap.String("kind", string(m.Kind)),
				)
			}
		}
	}
}

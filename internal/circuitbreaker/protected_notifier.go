package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/db"
	"github.com/lalithlochan/vigil/internal/delivery"
)

// ProtectedNotifier wraps a display backend with a CircuitBreaker. Calls
// cancelled by the caller and permission refusals do not count as backend
// failures.
type ProtectedNotifier struct {
	notifier delivery.Notifier
	breaker  *CircuitBreaker
	logger   *zap.Logger
}

var _ delivery.Notifier = (*ProtectedNotifier)(nil)

func NewProtectedNotifier(notifier delivery.Notifier, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedNotifier {
	return &ProtectedNotifier{
		notifier: notifier,
		breaker:  breaker,
		logger:   logger,
	}
}

// Notify fails fast with ErrCircuitOpen while the circuit is open.
func (p *ProtectedNotifier) Notify(ctx context.Context, d delivery.Display) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected display",
			zap.String("breaker", p.breaker.Name()),
			zap.String("notification_id", d.ID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s notifier unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	err := p.notifier.Notify(ctx, d)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled), errors.Is(err, delivery.ErrPermission):
	default:
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
	}
	return err
}

func (p *ProtectedNotifier) Supports(t db.NotificationType) bool {
	return p.notifier.Supports(t)
}

// Breaker returns the underlying circuit breaker for the status endpoint.
func (p *ProtectedNotifier) Breaker() *CircuitBreaker {
	return p.breaker
}

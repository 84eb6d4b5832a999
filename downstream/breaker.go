package downstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// breakerErr maps the breaker's own rejections to ErrUnavailable so callers
// treat them as transient.
func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

type breakingSession struct {
	next    SessionService
	breaker *gobreaker.CircuitBreaker
}

func NewBreakingSession(next SessionService, cfg BreakerConfig, logger *zap.Logger) SessionService {
	return &breakingSession{next: next, breaker: newBreaker("session", cfg, logger)}
}

func (s *breakingSession) PushCapabilities(ctx context.Context, update CapabilitiesUpdate) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.PushCapabilities(ctx, update)
	})
	return breakerErr(err)
}

type breakingCommerce struct {
	next    Commerce
	breaker *gobreaker.CircuitBreaker
}

func NewBreakingCommerce(next Commerce, cfg BreakerConfig, logger *zap.Logger) Commerce {
	return &breakingCommerce{next: next, breaker: newBreaker("commerce", cfg, logger)}
}

func (c *breakingCommerce) Provision(ctx context.Context, resource Resource, accountID string, accountType string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.next.Provision(ctx, resource, accountID, accountType)
	})
	return breakerErr(err)
}

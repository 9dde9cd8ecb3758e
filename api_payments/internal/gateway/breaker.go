package gateway

import (
	"context"

	"frameworks/pkg/clients"
)

// breakerGateway trips on transient provider failures. Declines pass
// through without counting against the provider.
type breakerGateway struct {
	next Gateway
	cb   *clients.CircuitBreaker
}

// WithCircuitBreaker decorates g. While the breaker is open, charges fail
// with circuit_open without reaching the provider.
func WithCircuitBreaker(g Gateway, cfg clients.CircuitBreakerConfig) Gateway {
	if cfg.Name == "" {
		cfg.Name = "gateway-" + g.Name()
	}
	return &breakerGateway{next: g, cb: clients.NewCircuitBreaker(cfg)}
}

func (b *breakerGateway) Name() string { return b.next.Name() }

func (b *breakerGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	var (
		result    ChargeResult
		chargeErr error
	)
	err := b.cb.Call(ctx, func(ctx context.Context) error {
		result, chargeErr = b.next.Charge(ctx, req)
		if gwErr, ok := AsError(chargeErr); ok && !gwErr.Transient {
			return nil
		}
		return chargeErr
	})
	if clients.IsCircuitOpen(err) {
		return failed(b.Name(), CodeCircuitOpen, "circuit breaker open", true, err)
	}
	if err != nil && chargeErr == nil {
		return failed(b.Name(), CodeUnknown, err.Error(), true, err)
	}
	return result, chargeErr
}

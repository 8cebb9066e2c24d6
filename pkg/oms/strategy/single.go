package strategy

import (
	"context"

	"github.com/joripage/orderexec/pkg/oms/model"
)

// PlaceSingle validates, normalizes and submits one market or limit order.
// Transient exchange errors are retried under env.Retry. The returned order
// is the stored record, REJECTED when submission failed for good.
func PlaceSingle(ctx context.Context, env *Env, p model.OrderParams) (model.Order, error) {
	if p.Type != model.OrderTypeMarket && p.Type != model.OrderTypeLimit {
		return model.Order{}, invalidf("order type %q is not market or limit", p.Type)
	}
	order, err := env.prepare(ctx, orderSpec{
		ClientOrderID: p.ClientOrderID,
		Symbol:        p.Symbol,
		Side:          p.Side,
		Type:          p.Type,
		Quantity:      p.Quantity,
		Price:         p.Price,
	})
	if err != nil {
		return model.Order{}, err
	}
	if err := env.guard(ctx, order); err != nil {
		return model.Order{}, err
	}
	return env.submit(ctx, order, true)
}

// CancelSingle cancels one order and reconciles it with the exchange.
func CancelSingle(ctx context.Context, env *Env, clientOrderID string) error {
	return env.cancel(ctx, clientOrderID)
}

package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/joripage/orderexec/pkg/oms/model"
	"go.uber.org/zap"
)

// OCO places a take-profit limit and a stop-limit leg; whichever fills
// first cancels the other.
type OCO struct {
	base
	params model.OCOParams

	takeProfit model.Order
	stop       model.Order
	// cancelSent marks legs whose cancel has been requested.
	cancelSent map[string]bool
}

func NewOCO(env *Env, p model.OCOParams) *OCO {
	if p.StopLimitPrice.IsZero() {
		p.StopLimitPrice = p.StopPrice
	}
	return &OCO{
		base:       newBase(env, model.StrategyKindOCO, model.OCOSubmitting),
		params:     p,
		cancelSent: make(map[string]bool),
	}
}

func (o *OCO) Validate(ctx context.Context) error {
	tp, err := o.env.prepare(ctx, orderSpec{
		StrategyID: o.id,
		Symbol:     o.params.Symbol,
		Side:       o.params.Side,
		Type:       model.OrderTypeLimit,
		Quantity:   o.params.Quantity,
		Price:      o.params.TakeProfitPrice,
	})
	if err != nil {
		return fmt.Errorf("take-profit leg: %w", err)
	}
	sl, err := o.env.prepare(ctx, orderSpec{
		StrategyID: o.id,
		Symbol:     o.params.Symbol,
		Side:       o.params.Side,
		Type:       model.OrderTypeStopLimit,
		Quantity:   o.params.Quantity,
		Price:      o.params.StopLimitPrice,
		StopPrice:  o.params.StopPrice,
	})
	if err != nil {
		return fmt.Errorf("stop leg: %w", err)
	}

	if o.params.Side == model.OrderSideSell && !tp.Price.GreaterThan(sl.StopPrice) {
		return invalidf("sell take-profit %s must be above stop %s", tp.Price, sl.StopPrice)
	}
	if o.params.Side == model.OrderSideBuy && !tp.Price.LessThan(sl.StopPrice) {
		return invalidf("buy take-profit %s must be below stop %s", tp.Price, sl.StopPrice)
	}

	o.takeProfit, o.stop = tp, sl
	o.params.Quantity = tp.Quantity
	o.params.TakeProfitPrice = tp.Price
	o.params.StopPrice = sl.StopPrice
	o.params.StopLimitPrice = sl.Price
	return nil
}

func (o *OCO) Start(ctx context.Context) {
	o.own(o.takeProfit.ClientOrderID)
	if _, err := o.env.submit(ctx, o.takeProfit, true); err != nil {
		o.reject(ctx, err)
		return
	}
	o.own(o.stop.ClientOrderID)
	if _, err := o.env.submit(ctx, o.stop, true); err != nil {
		o.cancelLeg(ctx, o.takeProfit.ClientOrderID)
		o.reject(ctx, err)
		return
	}
	o.setState(ctx, model.OCOActive)
}

func (o *OCO) reject(ctx context.Context, err error) {
	o.failure = err.Error()
	o.end(ctx, model.OCORejected)
}

func (o *OCO) sibling(id string) (string, bool) {
	switch id {
	case o.takeProfit.ClientOrderID:
		return o.stop.ClientOrderID, true
	case o.stop.ClientOrderID:
		return o.takeProfit.ClientOrderID, true
	}
	return "", false
}

func (o *OCO) OnOrderEvent(ctx context.Context, ev model.OrderEvent) {
	other, ok := o.sibling(ev.ClientOrderID)
	if !ok {
		return
	}
	if o.state == model.OCOActive &&
		(ev.To == model.OrderStatusFilled || ev.To == model.OrderStatusPartiallyFilled) {
		o.cancelLeg(ctx, other)
	}
	o.settle(ctx)
}

// cancelLeg cancels id unless it is already terminal. A leg the exchange no
// longer holds is a race only when it executed; one the venue cancelled or
// expired just settles.
func (o *OCO) cancelLeg(ctx context.Context, id string) {
	leg, found := o.order(id)
	if !found || leg.IsEnd() || o.cancelSent[id] {
		return
	}
	err := o.env.cancel(ctx, id)
	switch {
	case err == nil:
		o.cancelSent[id] = true
	case errors.Is(err, model.ErrAlreadyFilled), errors.Is(err, model.ErrNotFound):
		o.cancelSent[id] = true
		leg, _ = o.order(id)
		if leg.FilledQuantity.Sign() > 0 {
			o.raise(ctx, model.AnomalyOCORaceDetected, &leg, fmt.Sprintf("sibling cancel: %v", err))
		}
	default:
		// left for the next event; the supervisor keeps reconciling
		o.env.Logger.Warn(ctx, "oco sibling cancel failed", zap.String("strategy_id", o.id), zap.Error(err))
	}
}

// settle resolves the terminal state once both legs are terminal.
func (o *OCO) settle(ctx context.Context) {
	if o.state != model.OCOActive {
		return
	}
	tp, _ := o.order(o.takeProfit.ClientOrderID)
	sl, _ := o.order(o.stop.ClientOrderID)
	if !tp.IsEnd() || !sl.IsEnd() {
		return
	}

	filled := 0
	for _, leg := range []model.Order{tp, sl} {
		if leg.FilledQuantity.Sign() > 0 {
			filled++
		}
	}
	switch filled {
	case 2:
		o.raise(ctx, model.AnomalyOCOBothFilled, &sl,
			fmt.Sprintf("take-profit %s filled %s, stop %s filled %s", tp.ClientOrderID, tp.FilledQuantity, sl.ClientOrderID, sl.FilledQuantity))
		o.end(ctx, model.OCOBothFilled)
	case 1:
		o.end(ctx, model.OCOBothResolved)
	default:
		o.end(ctx, model.OCOCancelled)
	}
}

func (o *OCO) OnTick(ctx context.Context, tick Tick) {}

func (o *OCO) Cancel(ctx context.Context) {
	if o.state != model.OCOActive {
		return
	}
	o.cancelLeg(ctx, o.takeProfit.ClientOrderID)
	o.cancelLeg(ctx, o.stop.ClientOrderID)
	o.settle(ctx)
}

func (o *OCO) Done() bool {
	switch o.state {
	case model.OCOBothResolved, model.OCOBothFilled, model.OCOCancelled, model.OCORejected:
		return true
	}
	return false
}

func (o *OCO) Snapshot() model.StrategyInstance {
	return o.instance(o.params)
}

package strategy

import (
	"context"

	"github.com/joripage/orderexec/pkg/oms/model"
	"go.uber.org/zap"
)

// StopLimit waits for the stop price and then places a limit order.
type StopLimit struct {
	base
	params model.StopLimitParams
	child  string
}

func NewStopLimit(env *Env, p model.StopLimitParams) *StopLimit {
	return &StopLimit{
		base:   newBase(env, model.StrategyKindStopLimit, model.StopLimitArmed),
		params: p,
	}
}

func (s *StopLimit) Validate(ctx context.Context) error {
	if s.params.StopPrice.Sign() <= 0 {
		return invalidf("stop price %s", s.params.StopPrice)
	}
	// the child is a plain limit; normalize it now so a bad request fails
	// before anything is armed
	norm, err := s.env.prepare(ctx, orderSpec{
		Symbol:    s.params.Symbol,
		Side:      s.params.Side,
		Type:      model.OrderTypeStopLimit,
		Quantity:  s.params.Quantity,
		Price:     s.params.LimitPrice,
		StopPrice: s.params.StopPrice,
	})
	if err != nil {
		return err
	}
	s.params.Quantity = norm.Quantity
	s.params.LimitPrice = norm.Price
	s.params.StopPrice = norm.StopPrice
	return nil
}

func (s *StopLimit) Start(ctx context.Context) {
	s.env.Logger.Info(ctx, "stop-limit armed",
		zap.String("strategy_id", s.id),
		zap.String("symbol", s.params.Symbol),
		zap.String("stop", s.params.StopPrice.String()))
}

func (s *StopLimit) PriceSymbols() []string {
	return []string{s.params.Symbol}
}

func (s *StopLimit) reached(tick Tick) bool {
	if s.params.Side == model.OrderSideBuy {
		return tick.Price.GreaterThanOrEqual(s.params.StopPrice)
	}
	return tick.Price.LessThanOrEqual(s.params.StopPrice)
}

func (s *StopLimit) OnTick(ctx context.Context, tick Tick) {
	if s.state != model.StopLimitArmed || tick.Kind != TickPrice || tick.Symbol != s.params.Symbol {
		return
	}
	if !s.reached(tick) {
		return
	}
	s.setState(ctx, model.StopLimitTriggered)

	order := model.Order{
		ClientOrderID: s.env.NewID(),
		StrategyID:    s.id,
		Symbol:        s.params.Symbol,
		Side:          s.params.Side,
		Type:          model.OrderTypeLimit,
		Quantity:      s.params.Quantity,
		Price:         s.params.LimitPrice,
	}
	s.child = order.ClientOrderID
	s.own(order.ClientOrderID)

	// no retry: by the time a retry lands the trigger is stale
	if _, err := s.env.submit(ctx, order, false); err != nil {
		s.failure = err.Error()
		s.end(ctx, model.StopLimitRejected)
		return
	}
	if s.state == model.StopLimitTriggered {
		s.setState(ctx, model.StopLimitOrderPlaced)
	}
}

func (s *StopLimit) OnOrderEvent(ctx context.Context, ev model.OrderEvent) {
	if ev.ClientOrderID != s.child || s.Done() {
		return
	}
	switch ev.To {
	case model.OrderStatusFilled:
		s.end(ctx, model.StopLimitFilled)
	case model.OrderStatusCancelled, model.OrderStatusExpired:
		s.end(ctx, model.StopLimitCancelled)
	case model.OrderStatusRejected:
		s.failure = ev.Reason
		s.end(ctx, model.StopLimitRejected)
	}
}

func (s *StopLimit) Cancel(ctx context.Context) {
	switch s.state {
	case model.StopLimitArmed:
		s.end(ctx, model.StopLimitCancelled)
	case model.StopLimitOrderPlaced:
		if err := s.env.cancel(ctx, s.child); err != nil {
			s.env.Logger.Warn(ctx, "stop-limit cancel", zap.String("strategy_id", s.id), zap.Error(err))
		}
	}
}

func (s *StopLimit) Done() bool {
	switch s.state {
	case model.StopLimitFilled, model.StopLimitCancelled, model.StopLimitRejected:
		return true
	}
	return false
}

func (s *StopLimit) Snapshot() model.StrategyInstance {
	return s.instance(s.params)
}

package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/logging"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/precision"
	riskrule "github.com/joripage/orderexec/pkg/oms/risk_rule"
	"github.com/joripage/orderexec/pkg/oms/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RulesSource resolves symbol rules, normally the rules cache.
type RulesSource interface {
	Get(ctx context.Context, symbol string) (model.SymbolRules, error)
}

// RetryPolicy bounds the retry of transient submission errors.
type RetryPolicy struct {
	MaxRetries int           `yaml:"max_retries"`
	Base       time.Duration `yaml:"base"`
	Max        time.Duration `yaml:"max"`
}

// Env is what every engine shares: the exchange, the store and the sink
// for committed events.
type Env struct {
	Exchange exchange.Client
	Store    *store.Store
	Rules    RulesSource
	Notify   store.Notifier
	Logger   *logging.Logger
	Guards   []riskrule.RiskRule
	Retry    RetryPolicy

	Now   func() time.Time
	NewID func() string
	Sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetDefaults fills unset fields.
func (e *Env) SetDefaults() {
	if e.Logger == nil {
		e.Logger = logging.NewNop()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.NewID == nil {
		e.NewID = uuid.NewString
	}
	if e.Sleep == nil {
		e.Sleep = sleepCtx
	}
	if e.Retry.MaxRetries < 0 {
		e.Retry.MaxRetries = 0
	}
	if e.Retry.Base <= 0 {
		e.Retry.Base = 200 * time.Millisecond
	}
	if e.Retry.Max <= 0 {
		e.Retry.Max = 5 * time.Second
	}
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

func (e *Env) newBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Clock = clockFunc(e.Now)
	b.Reset()
	return b
}

// orderSpec is an order request before normalization.
type orderSpec struct {
	ClientOrderID string
	StrategyID    string
	Symbol        string
	Side          model.OrderSide
	Type          model.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
}

func (e *Env) rules(ctx context.Context, symbol string) (model.SymbolRules, error) {
	if symbol == "" {
		return model.SymbolRules{}, fmt.Errorf("empty symbol: %w", model.ErrInvalidOrderParameters)
	}
	r, err := e.Rules.Get(ctx, symbol)
	if err != nil {
		return model.SymbolRules{}, err
	}
	if r.Suspended {
		return r, fmt.Errorf("%s: %w", symbol, model.ErrSymbolSuspended)
	}
	return r, nil
}

func (e *Env) mid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	top, err := e.Exchange.GetOrderBook(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return top.Mid(), nil
}

// prepare validates and normalizes req into a PENDING order. It does not
// touch the store.
func (e *Env) prepare(ctx context.Context, req orderSpec) (model.Order, error) {
	if !req.Side.Valid() {
		return model.Order{}, fmt.Errorf("side %q: %w", req.Side, model.ErrInvalidOrderParameters)
	}
	switch req.Type {
	case model.OrderTypeMarket:
		if !req.Price.IsZero() {
			return model.Order{}, fmt.Errorf("market order with price %s: %w", req.Price, model.ErrInvalidOrderParameters)
		}
	case model.OrderTypeLimit, model.OrderTypeStopLimit:
		if req.Price.Sign() <= 0 {
			return model.Order{}, fmt.Errorf("limit price %s: %w", req.Price, model.ErrInvalidOrderParameters)
		}
	default:
		return model.Order{}, fmt.Errorf("order type %q: %w", req.Type, model.ErrInvalidOrderParameters)
	}
	if req.Type == model.OrderTypeStopLimit && req.StopPrice.Sign() <= 0 {
		return model.Order{}, fmt.Errorf("stop price %s: %w", req.StopPrice, model.ErrInvalidOrderParameters)
	}

	rules, err := e.rules(ctx, req.Symbol)
	if err != nil {
		return model.Order{}, err
	}
	ref := decimal.Zero
	if req.Type == model.OrderTypeMarket {
		if ref, err = e.mid(ctx, req.Symbol); err != nil {
			e.Logger.Warn(ctx, "no reference price for market order", zap.String("symbol", req.Symbol), zap.Error(err))
			ref = decimal.Zero
		}
	}
	v, err := precision.Normalize(precision.Values{
		Quantity:  req.Quantity,
		Price:     req.Price,
		StopPrice: req.StopPrice,
	}, rules, ref)
	if err != nil {
		return model.Order{}, err
	}

	id := req.ClientOrderID
	if id == "" {
		id = e.NewID()
	} else if _, err := e.Store.Get(id); err == nil {
		return model.Order{}, fmt.Errorf("duplicate client order id %s: %w", id, model.ErrInvalidOrderParameters)
	}
	return model.Order{
		ClientOrderID: id,
		StrategyID:    req.StrategyID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      v.Quantity,
		Price:         v.Price,
		StopPrice:     v.StopPrice,
		Status:        model.OrderStatusPending,
	}, nil
}

func (e *Env) guard(ctx context.Context, order model.Order) error {
	if len(e.Guards) == 0 || order.Type != model.OrderTypeLimit {
		return nil
	}
	top, err := e.Exchange.GetOrderBook(ctx, order.Symbol)
	if err != nil {
		return fmt.Errorf("order book %s: %w", order.Symbol, err)
	}
	return riskrule.CheckAll(e.Guards, &order, top)
}

// submit records order as PENDING and sends it. With retry set, transient
// errors are retried under the retry policy. A final failure marks the
// order REJECTED and is returned.
func (e *Env) submit(ctx context.Context, order model.Order, retry bool) (model.Order, error) {
	if err := e.Store.Put(order); err != nil {
		return order, err
	}

	req := exchange.NewPlaceOrderRequest(order)
	snap, err := e.Exchange.PlaceOrder(ctx, req)
	if err != nil && retry && model.IsTransient(err) {
		boff := e.newBackOff(e.Retry.Base, e.Retry.Max)
		for attempt := 1; attempt <= e.Retry.MaxRetries && model.IsTransient(err); attempt++ {
			delay := boff.NextBackOff()
			e.Logger.Warn(ctx, "transient submission error, retrying",
				zap.String("client_order_id", order.ClientOrderID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			if serr := e.Sleep(ctx, delay); serr != nil {
				break
			}
			snap, err = e.Exchange.PlaceOrder(ctx, req)
		}
	}

	if err != nil {
		change, uerr := e.Store.Update(order.ClientOrderID, func(o *model.Order) {
			o.Status = model.OrderStatusRejected
			o.Reason = err.Error()
		})
		if uerr == nil {
			change.Publish(ctx, e.Notify)
		}
		e.Logger.Warn(ctx, "order rejected",
			zap.String("client_order_id", order.ClientOrderID),
			zap.String("symbol", order.Symbol),
			zap.Error(err))
		rejected, _ := e.Store.Get(order.ClientOrderID)
		return rejected, fmt.Errorf("place order %s: %w", order.ClientOrderID, err)
	}

	change, err := e.Store.ApplySnapshot(order.ClientOrderID, snap)
	if err != nil {
		return order, err
	}
	change.Publish(ctx, e.Notify)
	e.Logger.Info(ctx, "order placed",
		zap.String("client_order_id", order.ClientOrderID),
		zap.String("exchange_order_id", snap.ExchangeOrderID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.String("quantity", order.Quantity.String()),
		zap.String("price", order.Price.String()))
	return e.Store.Get(order.ClientOrderID)
}

// reconcile folds the exchange's current view of order into the store.
func (e *Env) reconcile(ctx context.Context, clientOrderID string) (model.Order, error) {
	order, err := e.Store.Get(clientOrderID)
	if err != nil {
		return order, err
	}
	if order.ExchangeOrderID == "" {
		return order, nil
	}
	snap, err := e.Exchange.GetOrder(ctx, order.Symbol, order.ExchangeOrderID)
	if err != nil {
		return order, err
	}
	change, err := e.Store.ApplySnapshot(clientOrderID, snap)
	if err != nil {
		return order, err
	}
	change.Publish(ctx, e.Notify)
	return e.Store.Get(clientOrderID)
}

// cancel asks the exchange to cancel and reconciles the result. When the
// exchange answers ErrAlreadyFilled or ErrNotFound the order is still
// reconciled and the error is returned for the caller to classify.
func (e *Env) cancel(ctx context.Context, clientOrderID string) error {
	order, err := e.Store.Get(clientOrderID)
	if err != nil {
		return err
	}
	if order.IsEnd() || order.ExchangeOrderID == "" {
		return nil
	}

	err = e.Exchange.CancelOrder(ctx, order.Symbol, order.ExchangeOrderID)
	if err != nil && !errors.Is(err, model.ErrAlreadyFilled) && !errors.Is(err, model.ErrNotFound) {
		e.Logger.Warn(ctx, "cancel failed", zap.String("client_order_id", clientOrderID), zap.Error(err))
		return fmt.Errorf("cancel %s: %w", clientOrderID, err)
	}
	if _, rerr := e.reconcile(ctx, clientOrderID); rerr != nil {
		e.Logger.Warn(ctx, "reconcile after cancel failed", zap.String("client_order_id", clientOrderID), zap.Error(rerr))
	}
	if err != nil {
		return fmt.Errorf("cancel %s: %w", clientOrderID, err)
	}
	return nil
}

func (e *Env) anomaly(ctx context.Context, kind model.AnomalyKind, strategyID string, order *model.Order, detail string) model.Anomaly {
	a := model.Anomaly{
		ID:         e.NewID(),
		Kind:       kind,
		StrategyID: strategyID,
		Detail:     detail,
		At:         e.Now(),
	}
	if order != nil {
		a.ClientOrderID = order.ClientOrderID
		a.ExchangeOrderID = order.ExchangeOrderID
		a.Symbol = order.Symbol
	}
	e.Logger.Warn(ctx, "anomaly",
		zap.String("kind", string(kind)),
		zap.String("strategy_id", strategyID),
		zap.String("client_order_id", a.ClientOrderID),
		zap.String("detail", detail))
	if e.Notify != nil {
		e.Notify.OnAnomaly(ctx, a)
	}
	return a
}

package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/gammazero/deque"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/precision"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type twapSlice struct {
	index    int
	quantity decimal.Decimal
}

// TWAP splits a parent quantity into equal slices spread over a duration.
type TWAP struct {
	base
	params model.TWAPParams

	pending   deque.Deque[twapSlice]
	attempted int
	placed    int
}

func NewTWAP(env *Env, p model.TWAPParams) *TWAP {
	if p.OrderType == "" {
		p.OrderType = model.OrderTypeMarket
	}
	return &TWAP{
		base:   newBase(env, model.StrategyKindTWAP, model.TWAPScheduled),
		params: p,
	}
}

// SliceQuantities splits total into n slices rounded down to step; the last
// slice takes the remainder.
func SliceQuantities(total decimal.Decimal, n int, step decimal.Decimal) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	each := precision.Quantity(total.Div(decimal.NewFromInt(int64(n))), step)
	out := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		out[i] = each
	}
	out[n-1] = total.Sub(each.Mul(decimal.NewFromInt(int64(n - 1))))
	return out
}

func (w *TWAP) Validate(ctx context.Context) error {
	p := w.params
	if p.Slices <= 0 {
		return invalidf("slices %d", p.Slices)
	}
	if p.Duration < 0 {
		return invalidf("duration %s", p.Duration)
	}
	if p.OrderType != model.OrderTypeMarket && p.OrderType != model.OrderTypeLimit {
		return invalidf("slice order type %q", p.OrderType)
	}
	rules, err := w.env.rules(ctx, p.Symbol)
	if err != nil {
		return err
	}
	total := precision.Quantity(p.Quantity, rules.StepSize)
	if total.Sign() <= 0 {
		return invalidf("quantity %s rounds to zero", p.Quantity)
	}

	w.pending.Clear()
	for i, qty := range SliceQuantities(total, p.Slices, rules.StepSize) {
		// every slice must survive normalization on its own
		order, err := w.sliceOrder(ctx, qty)
		if err != nil {
			return fmt.Errorf("slice %d: %w", i, err)
		}
		if !order.Quantity.Equal(qty) {
			return invalidf("slice %d quantity %s is not a step multiple", i, qty)
		}
		if i == 0 {
			w.params.LimitPrice = order.Price
		}
		w.pending.PushBack(twapSlice{index: i, quantity: qty})
	}
	w.params.Quantity = total
	return nil
}

func (w *TWAP) sliceOrder(ctx context.Context, qty decimal.Decimal) (model.Order, error) {
	price := decimal.Zero
	if w.params.OrderType == model.OrderTypeLimit {
		price = w.params.LimitPrice
	}
	return w.env.prepare(ctx, orderSpec{
		StrategyID: w.id,
		Symbol:     w.params.Symbol,
		Side:       w.params.Side,
		Type:       w.params.OrderType,
		Quantity:   qty,
		Price:      price,
	})
}

// Schedule returns offset i*T/N for every slice.
func (w *TWAP) Schedule() []time.Duration {
	n := w.params.Slices
	out := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		out[i] = time.Duration(int64(w.params.Duration) * int64(i) / int64(n))
	}
	return out
}

func (w *TWAP) Start(ctx context.Context) {
	w.env.Logger.Info(ctx, "twap scheduled",
		zap.String("strategy_id", w.id),
		zap.Int("slices", w.params.Slices),
		zap.Duration("duration", w.params.Duration))
}

func (w *TWAP) OnTick(ctx context.Context, tick Tick) {
	if tick.Kind != TickTimer || w.Done() || w.pending.Len() == 0 {
		return
	}
	w.setState(ctx, model.TWAPRunning)

	s := w.pending.PopFront()
	w.attempted++
	if err := w.place(ctx, s); err != nil {
		o := model.Order{StrategyID: w.id, Symbol: w.params.Symbol}
		w.raise(ctx, model.AnomalySliceSkipped, &o, fmt.Sprintf("slice %d of %s: %v", s.index, s.quantity, err))
	}

	if w.attempted == w.params.Slices {
		w.end(ctx, model.TWAPCompleted)
	}
}

// place submits a slice without backoff; one immediate retry on failure.
func (w *TWAP) place(ctx context.Context, s twapSlice) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var order model.Order
		order, err = w.sliceOrder(ctx, s.quantity)
		if err != nil {
			continue
		}
		w.own(order.ClientOrderID)
		if _, err = w.env.submit(ctx, order, false); err == nil {
			w.placed++
			return nil
		}
	}
	return err
}

func (w *TWAP) OnOrderEvent(ctx context.Context, ev model.OrderEvent) {}

// Cancel stops future slices. Slices already placed are left alone.
func (w *TWAP) Cancel(ctx context.Context) {
	if w.Done() {
		return
	}
	w.pending.Clear()
	w.end(ctx, model.TWAPAbortedPartial)
}

func (w *TWAP) Done() bool {
	return w.state == model.TWAPCompleted || w.state == model.TWAPAbortedPartial
}

// Placed is the number of slices the exchange accepted.
func (w *TWAP) Placed() int {
	return w.placed
}

func (w *TWAP) Snapshot() model.StrategyInstance {
	return w.instance(w.params)
}

package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joripage/orderexec/pkg/exchange/paper"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/rules"
	"github.com/joripage/orderexec/pkg/oms/store"
	"github.com/joripage/orderexec/pkg/oms/supervisor"
	"github.com/shopspring/decimal"
)

const symbol = "BTCUSDT"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// harness drives strategies synchronously: events published by the store
// are queued and handed to the strategy by drain.
type harness struct {
	t     *testing.T
	ctx   context.Context
	ex    *paper.Exchange
	store *store.Store
	env   *Env
	sup   *supervisor.Supervisor

	mu        sync.Mutex
	queue     []model.OrderEvent
	anomalies []model.Anomaly
	seq       int
}

func newHarness(t *testing.T, price string) *harness {
	t.Helper()
	ex := paper.New(paper.Config{
		Symbols: []model.SymbolRules{{
			Symbol:      symbol,
			TickSize:    d("0.01"),
			StepSize:    d("0.001"),
			MinQuantity: d("0.001"),
			MinNotional: d("5"),
		}},
		Prices: map[string]decimal.Decimal{symbol: d(price)},
	})
	st := store.NewStore()
	h := &harness{t: t, ctx: context.Background(), ex: ex, store: st}
	h.env = &Env{
		Exchange: ex,
		Store:    st,
		Rules:    rules.NewCache(ex, nil),
		Notify:   h,
		NewID:    h.nextID,
		Sleep:    func(context.Context, time.Duration) error { return nil },
		Retry:    RetryPolicy{MaxRetries: 3},
	}
	h.env.SetDefaults()
	h.sup = supervisor.New(supervisor.Config{}, ex, st, h)
	return h
}

func (h *harness) nextID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	return fmt.Sprintf("id-%d", h.seq)
}

func (h *harness) OnOrderEvent(ctx context.Context, ev model.OrderEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, ev)
}

func (h *harness) OnAnomaly(ctx context.Context, a model.Anomaly) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.anomalies = append(h.anomalies, a)
}

func (h *harness) next() (model.OrderEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return model.OrderEvent{}, false
	}
	ev := h.queue[0]
	h.queue = h.queue[1:]
	return ev, true
}

func (h *harness) drain(s Strategy) {
	for {
		ev, ok := h.next()
		if !ok {
			return
		}
		if ev.StrategyID == s.ID() {
			s.OnOrderEvent(h.ctx, ev)
		}
	}
}

// sync runs one supervisor pass and delivers the resulting events.
func (h *harness) sync(s Strategy) {
	h.sup.Poll(h.ctx)
	h.drain(s)
}

func (h *harness) start(s Strategy) {
	h.t.Helper()
	if err := s.Validate(h.ctx); err != nil {
		h.t.Fatalf("validate: %v", err)
	}
	s.Start(h.ctx)
	h.drain(s)
}

func (h *harness) count(kind model.AnomalyKind) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, a := range h.anomalies {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) order(id string) model.Order {
	h.t.Helper()
	o, err := h.store.Get(id)
	if err != nil {
		h.t.Fatalf("get %s: %v", id, err)
	}
	return o
}

func (h *harness) openOrders() []model.OrderSnapshot {
	h.t.Helper()
	open, err := h.ex.OpenOrders(h.ctx, symbol)
	if err != nil {
		h.t.Fatalf("open orders: %v", err)
	}
	return open
}

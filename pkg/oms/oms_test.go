package oms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joripage/orderexec/pkg/exchange/paper"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/supervisor"
	"github.com/shopspring/decimal"
)

const symbol = "BTCUSDT"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recorder struct {
	mu        sync.Mutex
	events    []model.OrderEvent
	anomalies []model.Anomaly
	reports   []model.OrderEvent
}

func (r *recorder) PublishEvent(_ context.Context, ev model.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) PublishAnomaly(_ context.Context, a model.Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.anomalies = append(r.anomalies, a)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) Start(context.Context) error { return nil }

func (r *recorder) OnOrderReport(_ context.Context, ev model.OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, ev)
}

func (r *recorder) counts() (events, reports int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), len(r.reports)
}

func newTestOMS(t *testing.T, cfg Config) (*OMS, *paper.Exchange, *recorder) {
	t.Helper()
	ex := paper.New(paper.Config{
		Symbols: []model.SymbolRules{{
			Symbol:      symbol,
			TickSize:    d("0.01"),
			StepSize:    d("0.001"),
			MinQuantity: d("0.001"),
			MinNotional: d("5"),
		}},
		Prices: map[string]decimal.Decimal{symbol: d("100")},
	})
	if cfg.Supervisor.Interval == 0 {
		cfg.Supervisor = supervisor.Config{Interval: 10 * time.Millisecond}
	}
	rec := &recorder{}
	o := NewOMS(ex, cfg, WithJournal(rec))
	o.AddGateway(rec)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(o.Stop)
	return o, ex, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubmitLimitAndCancel(t *testing.T) {
	o, _, rec := newTestOMS(t, Config{})
	ctx := context.Background()

	h, err := o.Submit(ctx, Request{Kind: KindLimit, Order: &model.OrderParams{
		Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("1"), Price: d("90.004"),
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.OrderID == "" || h.StrategyID != "" {
		t.Fatalf("handle = %+v", h)
	}
	order, err := o.GetOrder(h.OrderID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.Status != model.OrderStatusOpen || !order.Price.Equal(d("90")) {
		t.Fatalf("order = %s at %s", order.Status, order.Price)
	}
	if got := o.ListOrders(symbol); len(got) != 1 {
		t.Fatalf("open orders = %d", len(got))
	}
	if got := o.ListOrders("ETHUSDT"); len(got) != 0 {
		t.Errorf("orders for another symbol = %d", len(got))
	}

	if err := o.CancelOrder(ctx, h.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	order, _ = o.GetOrder(h.OrderID)
	if order.Status != model.OrderStatusCancelled {
		t.Fatalf("status after cancel = %s", order.Status)
	}
	if err := o.CancelOrder(ctx, h.OrderID); !errors.Is(err, ErrInvalidOrderStatus) {
		t.Errorf("second cancel = %v", err)
	}
	if hist := o.OrderHistory(h.OrderID); len(hist) != 2 {
		t.Errorf("history = %d events, want 2", len(hist))
	}
	if events, reports := rec.counts(); events != 2 || reports != 2 {
		t.Errorf("journal %d gateway %d, want 2 each", events, reports)
	}
}

func TestSubmitMarketFills(t *testing.T) {
	o, _, _ := newTestOMS(t, Config{})
	h, err := o.Submit(context.Background(), Request{Kind: KindMarket, Order: &model.OrderParams{
		Symbol: symbol, Side: model.OrderSideSell, Quantity: d("0.5"),
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	order, _ := o.GetOrder(h.OrderID)
	if order.Status != model.OrderStatusFilled || order.ExchangeOrderID == "" {
		t.Fatalf("order = %+v", order)
	}
}

func TestSubmitInvalidRequests(t *testing.T) {
	o, _, _ := newTestOMS(t, Config{})
	tests := []struct {
		name string
		req  Request
	}{
		{"unknown kind", Request{Kind: "ICEBERG"}},
		{"missing order", Request{Kind: KindLimit}},
		{"missing grid", Request{Kind: KindGrid, OCO: &model.OCOParams{}}},
		{"market with price", Request{Kind: KindMarket, Order: &model.OrderParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("1"), Price: d("100")}}},
		{"bad oco", Request{Kind: KindOCO, OCO: &model.OCOParams{Symbol: symbol, Side: model.OrderSideSell, Quantity: d("1"), TakeProfitPrice: d("90"), StopPrice: d("95")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Submit(context.Background(), tt.req)
			if !errors.Is(err, model.ErrInvalidOrderParameters) {
				t.Fatalf("err = %v", err)
			}
		})
	}
	if n := len(o.ListStrategies()); n != 0 {
		t.Errorf("rejected requests created %d strategies", n)
	}
}

func TestStrategyLifecycle(t *testing.T) {
	o, _, _ := newTestOMS(t, Config{})
	ctx := context.Background()

	h, err := o.Submit(ctx, Request{Kind: KindOCO, OCO: &model.OCOParams{
		Symbol: symbol, Side: model.OrderSideSell, Quantity: d("1"), TakeProfitPrice: d("110"), StopPrice: d("90"),
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.StrategyID == "" {
		t.Fatalf("no strategy id")
	}
	waitFor(t, "oco active", func() bool {
		inst, _ := o.GetStrategy(h.StrategyID)
		return inst.State == model.OCOActive
	})

	inst, _ := o.GetStrategy(h.StrategyID)
	if len(inst.ChildOrders) != 2 {
		t.Fatalf("children = %v", inst.ChildOrders)
	}
	if err := o.CancelOrder(ctx, inst.ChildOrders[0]); !errors.Is(err, ErrOwnedByStrategy) {
		t.Fatalf("cancel child = %v", err)
	}
	if err := o.PauseGrid(ctx, h.StrategyID); err == nil {
		t.Errorf("paused an oco")
	}

	if err := o.CancelStrategy(ctx, h.StrategyID); err != nil {
		t.Fatalf("cancel strategy: %v", err)
	}
	waitFor(t, "archive", func() bool {
		inst, _ := o.GetStrategy(h.StrategyID)
		return inst.Archived
	})
	inst, _ = o.GetStrategy(h.StrategyID)
	if inst.State != model.OCOCancelled {
		t.Fatalf("state = %s", inst.State)
	}
	if len(o.ListOrders(symbol)) != 0 {
		t.Errorf("legs left open")
	}
	if err := o.CancelStrategy(ctx, h.StrategyID); err != nil {
		t.Errorf("cancel archived strategy: %v", err)
	}
	if err := o.ResumeGrid(ctx, h.StrategyID); err == nil {
		t.Errorf("resumed an archived strategy")
	}
	if _, err := o.GetStrategy("nope"); !IsNotFound(err) {
		t.Errorf("unknown strategy = %v", err)
	}
	if got := o.ListStrategies(); len(got) != 1 {
		t.Errorf("strategies = %d", len(got))
	}
}

func TestEventsRouteToStrategy(t *testing.T) {
	o, ex, _ := newTestOMS(t, Config{})
	ctx := context.Background()

	h, err := o.Submit(ctx, Request{Kind: KindStopLimit, StopLimit: &model.StopLimitParams{
		Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("1"), StopPrice: d("105"), LimitPrice: d("106"),
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// fills reach the stop-limit only through the supervisor and the oms
	waitFor(t, "stop filled", func() bool {
		ex.SetPrice(symbol, d("105"))
		inst, _ := o.GetStrategy(h.StrategyID)
		return inst.Archived && inst.State == model.StopLimitFilled
	})
}

func TestGridPauseResume(t *testing.T) {
	o, _, _ := newTestOMS(t, Config{})
	ctx := context.Background()

	h, err := o.Submit(ctx, Request{Kind: KindGrid, Grid: &model.GridParams{
		Symbol: symbol, Lower: d("90"), Upper: d("110"), Levels: 5, QuantityPerLevel: d("1"),
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "grid active", func() bool {
		inst, _ := o.GetStrategy(h.StrategyID)
		return inst.State == model.GridActive
	})
	if err := o.PauseGrid(ctx, h.StrategyID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if inst, _ := o.GetStrategy(h.StrategyID); inst.State != model.GridPaused {
		t.Fatalf("state = %s", inst.State)
	}
	if err := o.ResumeGrid(ctx, h.StrategyID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := o.CancelStrategy(ctx, h.StrategyID); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	waitFor(t, "grid archived", func() bool {
		inst, _ := o.GetStrategy(h.StrategyID)
		return inst.Archived
	})
	if n := len(o.ListOrders(symbol)); n != 0 {
		t.Errorf("open orders after teardown = %d", n)
	}
}

func TestAnomalyLog(t *testing.T) {
	o, _, rec := newTestOMS(t, Config{AnomalyLogCap: 2})
	ctx := context.Background()
	kinds := []model.AnomalyKind{model.AnomalyOrphanOrder, model.AnomalySliceSkipped, model.AnomalyOCOBothFilled}
	for _, k := range kinds {
		o.OnAnomaly(ctx, model.Anomaly{Kind: k})
	}

	got := o.Anomalies()
	if len(got) != 2 {
		t.Fatalf("anomalies = %d, want 2", len(got))
	}
	if got[0].Kind != model.AnomalySliceSkipped || got[1].Kind != model.AnomalyOCOBothFilled {
		t.Errorf("kept %s, %s", got[0].Kind, got[1].Kind)
	}
	for _, a := range got {
		if a.ID == "" || a.At.IsZero() {
			t.Errorf("anomaly not stamped: %+v", a)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.anomalies) != 3 {
		t.Errorf("journalled %d anomalies", len(rec.anomalies))
	}
}

func TestCleanupArchived(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	o := NewOMS(paper.New(paper.Config{}), Config{Retention: time.Hour}, WithClock(func() time.Time { return now }))
	o.archived.Store("old", model.StrategyInstance{StrategyID: "old", Archived: true, CompletedAt: now.Add(-2 * time.Hour)})
	o.archived.Store("new", model.StrategyInstance{StrategyID: "new", Archived: true, CompletedAt: now.Add(-time.Minute)})

	if n := o.cleanup(); n != 1 {
		t.Fatalf("removed = %d", n)
	}
	if _, err := o.GetStrategy("old"); !IsNotFound(err) {
		t.Errorf("old strategy still listed")
	}
	if _, err := o.GetStrategy("new"); err != nil {
		t.Errorf("recent strategy dropped: %v", err)
	}
}

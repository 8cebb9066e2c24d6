package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

func newOrder(id string) model.Order {
	return model.Order{
		ClientOrderID: id,
		Symbol:        "BTCUSDT",
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(10),
		Price:         decimal.NewFromInt(100),
		StrategyID:    "s1",
	}
}

func snapshot(status model.OrderStatus, filled int64) model.OrderSnapshot {
	return model.OrderSnapshot{
		ExchangeOrderID: "X1",
		Status:          status,
		FilledQuantity:  decimal.NewFromInt(filled),
		AvgFillPrice:    decimal.NewFromInt(100),
	}
}

func TestPutAndGet(t *testing.T) {
	s := NewStore()
	if err := s.Put(newOrder("c1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(newOrder("c1")); !errors.Is(err, errDuplicateOrder) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	o, err := s.Get("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.Status != model.OrderStatusPending {
		t.Errorf("new order status = %s, want PENDING", o.Status)
	}

	if _, err := s.Get("missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestApplySnapshotWalksThroughOpen(t *testing.T) {
	s := NewStore()
	_ = s.Put(newOrder("c1"))

	change, err := s.ApplySnapshot("c1", snapshot(model.OrderStatusFilled, 10))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(change.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(change.Events))
	}
	if change.Events[0].To != model.OrderStatusOpen || change.Events[1].To != model.OrderStatusFilled {
		t.Errorf("unexpected path %s, %s", change.Events[0].To, change.Events[1].To)
	}
	if !change.Events[1].FillDelta.Equal(decimal.NewFromInt(10)) {
		t.Errorf("fill delta = %s", change.Events[1].FillDelta)
	}

	o, _ := s.Get("c1")
	if o.ExchangeOrderID != "X1" {
		t.Errorf("exchange id not recorded")
	}
	if byEx, err := s.GetByExchangeID("X1"); err != nil || byEx.ClientOrderID != "c1" {
		t.Errorf("exchange index broken: %v", err)
	}
	if len(s.History("c1")) != 2 {
		t.Errorf("history length = %d", len(s.History("c1")))
	}
}

func TestTerminalStateIsSticky(t *testing.T) {
	s := NewStore()
	_ = s.Put(newOrder("c1"))
	_, _ = s.ApplySnapshot("c1", snapshot(model.OrderStatusFilled, 10))

	change, err := s.ApplySnapshot("c1", snapshot(model.OrderStatusCancelled, 10))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if change.Changed() {
		t.Fatalf("terminal order changed: %+v", change.Events)
	}
	if change.Anomaly == nil || change.Anomaly.Kind != model.AnomalyTerminalTransition {
		t.Fatalf("expected terminal transition anomaly, got %+v", change.Anomaly)
	}

	// same terminal status observed again is silent
	change, _ = s.ApplySnapshot("c1", snapshot(model.OrderStatusFilled, 10))
	if change.Changed() || change.Anomaly != nil {
		t.Errorf("repeat observation should be silent: %+v", change)
	}

	o, _ := s.Get("c1")
	if o.Status != model.OrderStatusFilled {
		t.Errorf("status = %s, want FILLED", o.Status)
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	s := NewStore()
	_ = s.Put(newOrder("c1"))

	change, err := s.Update("c1", func(o *model.Order) { o.Status = model.OrderStatusCancelled })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if change.Changed() {
		t.Fatalf("pending -> cancelled must not commit")
	}
	if change.Anomaly == nil || change.Anomaly.Kind != model.AnomalyIllegalTransition {
		t.Fatalf("expected illegal transition anomaly")
	}
}

func TestFillAccounting(t *testing.T) {
	s := NewStore()
	_ = s.Put(newOrder("c1"))
	_, _ = s.ApplySnapshot("c1", snapshot(model.OrderStatusOpen, 0))

	change, _ := s.ApplySnapshot("c1", snapshot(model.OrderStatusPartiallyFilled, 4))
	if len(change.Events) != 1 || !change.Events[0].FillDelta.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("unexpected partial fill change %+v", change.Events)
	}

	change, _ = s.ApplySnapshot("c1", snapshot(model.OrderStatusPartiallyFilled, 7))
	if len(change.Events) != 1 || change.Events[0].From != model.OrderStatusPartiallyFilled {
		t.Fatalf("partial -> partial should emit: %+v", change.Events)
	}

	// stale observation does not move fills backwards
	change, _ = s.ApplySnapshot("c1", snapshot(model.OrderStatusPartiallyFilled, 3))
	if change.Changed() {
		t.Errorf("stale snapshot emitted %+v", change.Events)
	}

	o, _ := s.Get("c1")
	if !o.FilledQuantity.Equal(decimal.NewFromInt(7)) {
		t.Errorf("filled = %s, want 7", o.FilledQuantity)
	}

	// filled forces filled quantity to the order quantity
	_, _ = s.ApplySnapshot("c1", snapshot(model.OrderStatusFilled, 9))
	o, _ = s.Get("c1")
	if !o.FilledQuantity.Equal(o.Quantity) {
		t.Errorf("filled order has filled=%s quantity=%s", o.FilledQuantity, o.Quantity)
	}
}

func TestListByStrategyAndActive(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		_ = s.Put(newOrder(id))
	}
	other := newOrder("d")
	other.StrategyID = "s2"
	_ = s.Put(other)
	_, _ = s.ApplySnapshot("b", snapshot(model.OrderStatusFilled, 10))

	got := s.ListByStrategy("s1")
	if len(got) != 3 || got[0].ClientOrderID != "a" || got[2].ClientOrderID != "c" {
		t.Fatalf("unexpected strategy orders %+v", got)
	}
	if active := s.ListActive(); len(active) != 3 {
		t.Errorf("active = %d, want 3", len(active))
	}
}

func TestCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return now }))
	_ = s.Put(newOrder("done"))
	_ = s.Put(newOrder("kept"))
	_ = s.Put(newOrder("live"))
	_, _ = s.ApplySnapshot("done", snapshot(model.OrderStatusFilled, 10))
	_, _ = s.ApplySnapshot("kept", model.OrderSnapshot{ExchangeOrderID: "X2", Status: model.OrderStatusFilled})

	now = now.Add(time.Hour)
	n := s.Cleanup(now.Add(-time.Minute), func(o model.Order) bool { return o.ClientOrderID == "kept" })
	if n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if _, err := s.Get("done"); err == nil {
		t.Errorf("done order still present")
	}
	if _, err := s.GetByExchangeID("X1"); err == nil {
		t.Errorf("exchange index still present")
	}
	if len(s.ListByStrategy("s1")) != 2 {
		t.Errorf("strategy index not pruned")
	}
}

func TestConcurrentUpdatesSerialized(t *testing.T) {
	s := NewStore()
	_ = s.Put(newOrder("c1"))
	_, _ = s.ApplySnapshot("c1", snapshot(model.OrderStatusOpen, 0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var events int
	for i := 1; i <= 9; i++ {
		wg.Add(1)
		go func(filled int64) {
			defer wg.Done()
			change, _ := s.ApplySnapshot("c1", snapshot(model.OrderStatusPartiallyFilled, filled))
			mu.Lock()
			events += len(change.Events)
			mu.Unlock()
		}(int64(i))
	}
	wg.Wait()

	o, _ := s.Get("c1")
	if !o.FilledQuantity.Equal(decimal.NewFromInt(9)) {
		t.Errorf("filled = %s, want 9", o.FilledQuantity)
	}
	if events == 0 || events > 9 {
		t.Errorf("unexpected event count %d", events)
	}
}

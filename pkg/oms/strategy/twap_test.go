package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/joripage/orderexec/pkg/exchange/paper"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

func timerTick(slot int) Tick {
	return Tick{Kind: TickTimer, Slot: slot}
}

func TestSliceQuantities(t *testing.T) {
	tests := []struct {
		total string
		n     int
		step  string
		want  []string
	}{
		{"100", 4, "0.001", []string{"25", "25", "25", "25"}},
		{"10", 3, "0.001", []string{"3.333", "3.333", "3.334"}},
		{"1", 1, "0.1", []string{"1"}},
		{"0.002", 4, "0.001", []string{"0", "0", "0", "0.002"}},
	}
	for _, tt := range tests {
		got := SliceQuantities(d(tt.total), tt.n, d(tt.step))
		if len(got) != len(tt.want) {
			t.Fatalf("len = %d, want %d", len(got), len(tt.want))
		}
		sum := decimal.Zero
		for i := range got {
			if !got[i].Equal(d(tt.want[i])) {
				t.Errorf("%s/%d slice %d = %s, want %s", tt.total, tt.n, i, got[i], tt.want[i])
			}
			sum = sum.Add(got[i])
		}
		if !sum.Equal(d(tt.total)) {
			t.Errorf("slices sum to %s, want %s", sum, tt.total)
		}
	}
}

func TestTWAPSchedule(t *testing.T) {
	h := newHarness(t, "100")
	w := NewTWAP(h.env, model.TWAPParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("100"), Slices: 4, Duration: 40 * time.Second})
	if err := w.Validate(h.ctx); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := []time.Duration{0, 10 * time.Second, 20 * time.Second, 30 * time.Second}
	got := w.Schedule()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("offset %d = %s, want %s", i, got[i], want[i])
		}
	}
	if w.pending.Len() != 4 || !w.pending.Front().quantity.Equal(d("25")) {
		t.Errorf("pending slices = %d", w.pending.Len())
	}
}

func TestTWAPRunsAllSlices(t *testing.T) {
	h := newHarness(t, "100")
	w := NewTWAP(h.env, model.TWAPParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("100"), Slices: 4, Duration: 40 * time.Second})
	h.start(w)
	if w.state != model.TWAPScheduled {
		t.Fatalf("state = %s", w.state)
	}

	for i := 0; i < 4; i++ {
		w.OnTick(h.ctx, timerTick(i))
		h.drain(w)
		if i < 3 && w.state != model.TWAPRunning {
			t.Fatalf("after slice %d state = %s", i, w.state)
		}
	}
	if w.state != model.TWAPCompleted || w.Placed() != 4 {
		t.Fatalf("state = %s placed = %d", w.state, w.Placed())
	}
	filled := decimal.Zero
	for _, o := range h.store.ListByStrategy(w.ID()) {
		filled = filled.Add(o.FilledQuantity)
	}
	if !filled.Equal(d("100")) {
		t.Errorf("filled %s, want 100", filled)
	}
}

func TestTWAPSkipsSliceFailingTwice(t *testing.T) {
	h := newHarness(t, "100")
	w := NewTWAP(h.env, model.TWAPParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("100"), Slices: 4, Duration: 40 * time.Second})
	h.start(w)

	for i := 0; i < 4; i++ {
		if i == 1 {
			h.ex.InjectError(paper.OpPlace, model.ErrNetworkTimeout, 2)
		}
		w.OnTick(h.ctx, timerTick(i))
		h.drain(w)
	}

	if w.state != model.TWAPCompleted {
		t.Fatalf("state = %s, want COMPLETED", w.state)
	}
	if w.Placed() != 3 {
		t.Errorf("placed = %d, want 3", w.Placed())
	}
	if n := h.count(model.AnomalySliceSkipped); n != 1 {
		t.Errorf("skipped = %d, want 1", n)
	}
	filled := 0
	for _, o := range h.store.ListByStrategy(w.ID()) {
		if o.Status == model.OrderStatusFilled {
			filled++
		}
	}
	if filled != 3 {
		t.Errorf("filled slices = %d", filled)
	}
}

func TestTWAPRetriesOnceImmediately(t *testing.T) {
	h := newHarness(t, "100")
	w := NewTWAP(h.env, model.TWAPParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("2"), Slices: 2, Duration: time.Second})
	h.start(w)

	h.ex.InjectError(paper.OpPlace, model.ErrRateLimited, 1)
	w.OnTick(h.ctx, timerTick(0))
	if w.Placed() != 1 || h.count(model.AnomalySliceSkipped) != 0 {
		t.Fatalf("placed = %d skipped = %d", w.Placed(), h.count(model.AnomalySliceSkipped))
	}
}

func TestTWAPCancel(t *testing.T) {
	h := newHarness(t, "100")
	w := NewTWAP(h.env, model.TWAPParams{
		Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("4"), Slices: 4, Duration: time.Minute,
		OrderType: model.OrderTypeLimit, LimitPrice: d("90"),
	})
	h.start(w)

	w.OnTick(h.ctx, timerTick(0))
	w.OnTick(h.ctx, timerTick(1))
	h.drain(w)
	w.Cancel(h.ctx)
	w.OnTick(h.ctx, timerTick(2))

	if w.state != model.TWAPAbortedPartial {
		t.Fatalf("state = %s, want ABORTED_PARTIAL", w.state)
	}
	if w.Placed() != 2 {
		t.Errorf("placed = %d, want 2", w.Placed())
	}
	// resting slices are left to the caller
	if n := len(h.openOrders()); n != 2 {
		t.Errorf("open orders = %d, want 2", n)
	}
	if w.ChildrenTerminal() {
		t.Errorf("children reported terminal while slices rest")
	}
}

func TestTWAPValidate(t *testing.T) {
	tests := []struct {
		name   string
		params model.TWAPParams
	}{
		{"no slices", model.TWAPParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("1"), Slices: 0, Duration: time.Second}},
		{"slice rounds to zero", model.TWAPParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("0.002"), Slices: 4, Duration: time.Second}},
		{"limit without price", model.TWAPParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("1"), Slices: 2, Duration: time.Second, OrderType: model.OrderTypeLimit}},
		{"stop type", model.TWAPParams{Symbol: symbol, Side: model.OrderSideBuy, Quantity: d("1"), Slices: 2, Duration: time.Second, OrderType: model.OrderTypeStopLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "100")
			w := NewTWAP(h.env, tt.params)
			if err := w.Validate(h.ctx); !errors.Is(err, model.ErrInvalidOrderParameters) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusOpen, true},
		{OrderStatusPending, OrderStatusRejected, true},
		{OrderStatusPending, OrderStatusFilled, false},
		{OrderStatusOpen, OrderStatusPartiallyFilled, true},
		{OrderStatusOpen, OrderStatusFilled, true},
		{OrderStatusOpen, OrderStatusCancelled, true},
		{OrderStatusOpen, OrderStatusExpired, true},
		{OrderStatusOpen, OrderStatusRejected, false},
		{OrderStatusPartiallyFilled, OrderStatusPartiallyFilled, true},
		{OrderStatusPartiallyFilled, OrderStatusFilled, true},
		{OrderStatusFilled, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusOpen, false},
		{OrderStatusExpired, OrderStatusFilled, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	terminal := map[OrderStatus]bool{
		OrderStatusPending:         false,
		OrderStatusOpen:            false,
		OrderStatusPartiallyFilled: false,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusRejected:        true,
		OrderStatusExpired:         true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s: IsTerminal=%v, want %v", status, got, want)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("place: %w", ErrRateLimited)) {
		t.Errorf("wrapped rate limit should be transient")
	}
	if !IsTransient(ErrNetworkTimeout) {
		t.Errorf("timeout should be transient")
	}
	if IsTransient(ErrInsufficientBalance) || IsTransient(errors.New("boom")) {
		t.Errorf("terminal errors reported as transient")
	}
}

func TestNewOrderEventFillDelta(t *testing.T) {
	before := Order{ClientOrderID: "c1", Status: OrderStatusOpen, FilledQuantity: decimal.NewFromInt(2)}
	after := before
	after.Status = OrderStatusPartiallyFilled
	after.FilledQuantity = decimal.NewFromInt(5)

	ev := NewOrderEvent(before, after, after.UpdatedAt)
	if !ev.FillDelta.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("fill delta = %s, want 3", ev.FillDelta)
	}
	if ev.From != OrderStatusOpen || ev.To != OrderStatusPartiallyFilled {
		t.Errorf("unexpected transition %s -> %s", ev.From, ev.To)
	}
	if ev.EventID != "c1-PARTIALLY_FILLED-5" {
		t.Errorf("event id = %s", ev.EventID)
	}
}

func TestTWAPParamsDurationJSON(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{`{"symbol":"BTCUSDT","slices":4,"duration":"40s"}`, 40 * time.Second, true},
		{`{"symbol":"BTCUSDT","slices":4,"duration":1000000000}`, time.Second, true},
		{`{"symbol":"BTCUSDT","slices":4}`, 0, true},
		{`{"duration":"soon"}`, 0, false},
	}
	for _, tt := range tests {
		var p TWAPParams
		err := json.Unmarshal([]byte(tt.in), &p)
		if (err == nil) != tt.ok {
			t.Fatalf("%s: err = %v", tt.in, err)
		}
		if tt.ok && p.Duration != tt.want {
			t.Errorf("%s: duration = %v", tt.in, p.Duration)
		}
	}

	b, err := json.Marshal(TWAPParams{Symbol: "BTCUSDT", Slices: 4, Duration: 40 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	var back TWAPParams
	if err := json.Unmarshal(b, &back); err != nil || back.Duration != 40*time.Second || back.Slices != 4 {
		t.Fatalf("round trip %s = %+v, %v", b, back, err)
	}
}

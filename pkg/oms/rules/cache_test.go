package rules

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	tick  decimal.Decimal
	err   error
}

func (f *fakeSource) GetSymbolInfo(ctx context.Context, symbol string) (model.SymbolRules, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.SymbolRules{}, f.err
	}
	return model.SymbolRules{Symbol: symbol, TickSize: f.tick}, nil
}

type mapStore struct {
	rules map[string]model.SymbolRules
}

func (m *mapStore) Get(ctx context.Context, symbol string) (model.SymbolRules, bool, error) {
	r, ok := m.rules[symbol]
	return r, ok, nil
}

func (m *mapStore) Set(ctx context.Context, r model.SymbolRules) error {
	m.rules[r.Symbol] = r
	return nil
}

func TestCacheHitsSourceOnce(t *testing.T) {
	src := &fakeSource{tick: decimal.RequireFromString("0.1")}
	c := NewCache(src, nil)

	for i := 0; i < 3; i++ {
		r, err := c.Get(context.Background(), "BTCUSDT")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !r.TickSize.Equal(src.tick) {
			t.Errorf("tick = %s", r.TickSize)
		}
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}

func TestCacheUsesSharedStore(t *testing.T) {
	src := &fakeSource{}
	shared := &mapStore{rules: map[string]model.SymbolRules{
		"ETHUSDT": {Symbol: "ETHUSDT", TickSize: decimal.RequireFromString("0.01")},
	}}
	c := NewCache(src, shared)

	if _, err := c.Get(context.Background(), "ETHUSDT"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if src.calls != 0 {
		t.Errorf("source should not be called on shared hit")
	}

	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := shared.rules["BTCUSDT"]; !ok {
		t.Errorf("fetched rules not written through")
	}
}

func TestRefreshKeepsRulesOnFailure(t *testing.T) {
	src := &fakeSource{tick: decimal.RequireFromString("0.1")}
	c := NewCache(src, nil)
	_, _ = c.Get(context.Background(), "BTCUSDT")

	src.tick = decimal.RequireFromString("0.5")
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	r, _ := c.Get(context.Background(), "BTCUSDT")
	if !r.TickSize.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("refresh did not update tick: %s", r.TickSize)
	}

	src.err = model.ErrNetworkTimeout
	if err := c.Refresh(context.Background()); !errors.Is(err, model.ErrNetworkTimeout) {
		t.Fatalf("refresh error = %v", err)
	}
	r, _ = c.Get(context.Background(), "BTCUSDT")
	if !r.TickSize.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("failed refresh dropped rules")
	}
}

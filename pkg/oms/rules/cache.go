// Package rules caches exchange symbol rules for the engines.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"go.uber.org/zap"
)

// Source fetches authoritative rules, normally the exchange client.
type Source interface {
	GetSymbolInfo(ctx context.Context, symbol string) (model.SymbolRules, error)
}

// SharedStore is an optional second-level cache shared between processes.
type SharedStore interface {
	Get(ctx context.Context, symbol string) (model.SymbolRules, bool, error)
	Set(ctx context.Context, r model.SymbolRules) error
}

type Cache struct {
	src    Source
	shared SharedStore

	mu    sync.RWMutex
	rules map[string]model.SymbolRules
}

func NewCache(src Source, shared SharedStore) *Cache {
	return &Cache{
		src:    src,
		shared: shared,
		rules:  make(map[string]model.SymbolRules),
	}
}

func (c *Cache) Get(ctx context.Context, symbol string) (model.SymbolRules, error) {
	c.mu.RLock()
	r, ok := c.rules[symbol]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}

	if c.shared != nil {
		r, ok, err := c.shared.Get(ctx, symbol)
		if err != nil {
			zap.S().Warnw("rules: shared cache read failed", "symbol", symbol, "err", err)
		} else if ok {
			c.store(r)
			return r, nil
		}
	}
	return c.fetch(ctx, symbol)
}

func (c *Cache) fetch(ctx context.Context, symbol string) (model.SymbolRules, error) {
	r, err := c.src.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return model.SymbolRules{}, fmt.Errorf("symbol info %s: %w", symbol, err)
	}
	c.store(r)
	if c.shared != nil {
		if err := c.shared.Set(ctx, r); err != nil {
			zap.S().Warnw("rules: shared cache write failed", "symbol", symbol, "err", err)
		}
	}
	return r, nil
}

func (c *Cache) store(r model.SymbolRules) {
	c.mu.Lock()
	c.rules[r.Symbol] = r
	c.mu.Unlock()
}

func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rules))
	for s := range c.rules {
		out = append(out, s)
	}
	return out
}

// Refresh refetches every cached symbol. Failures keep the previous rules.
func (c *Cache) Refresh(ctx context.Context) error {
	var firstErr error
	for _, symbol := range c.Symbols() {
		if _, err := c.fetch(ctx, symbol); err != nil {
			zap.S().Warnw("rules: refresh failed", "symbol", symbol, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run refreshes on every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

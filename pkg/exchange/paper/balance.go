package paper

import (
	"context"
	"fmt"
	"sort"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

// wallet is the simulated account. Only symbols with both assets named are
// accounted; the rest trade with unlimited funds.
type wallet struct {
	free   map[string]decimal.Decimal
	locked map[string]decimal.Decimal
}

func newWallet(seed map[string]decimal.Decimal) *wallet {
	w := &wallet{
		free:   make(map[string]decimal.Decimal, len(seed)),
		locked: make(map[string]decimal.Decimal),
	}
	for asset, amount := range seed {
		w.free[asset] = amount
	}
	return w
}

func (w *wallet) move(asset string, free, locked decimal.Decimal) {
	w.free[asset] = w.free[asset].Add(free)
	w.locked[asset] = w.locked[asset].Add(locked)
}

// reserve locks the funds o needs before it reaches the book. Must be called
// with e.mu held.
func (e *Exchange) reserve(o *paperOrder, rules model.SymbolRules, last decimal.Decimal) error {
	if e.wallet == nil || rules.BaseAsset == "" || rules.QuoteAsset == "" {
		return nil
	}
	asset, amount := rules.BaseAsset, o.snap.Quantity
	if o.snap.Side == model.OrderSideBuy {
		price := o.snap.Price
		if o.snap.Type == model.OrderTypeMarket {
			price = last
		}
		o.reservePrice = price
		asset, amount = rules.QuoteAsset, o.snap.Quantity.Mul(price)
	}
	if free := e.wallet.free[asset]; free.LessThan(amount) {
		return fmt.Errorf("%s free %s, need %s: %w", asset, free, amount, model.ErrInsufficientBalance)
	}
	e.wallet.move(asset, amount.Neg(), amount)
	o.funded = true
	o.base, o.quote = rules.BaseAsset, rules.QuoteAsset
	return nil
}

// settleFill books qty executed at price against o's reservation.
func (e *Exchange) settleFill(o *paperOrder, qty, price decimal.Decimal) {
	if !o.funded {
		return
	}
	cost := qty.Mul(price)
	if o.snap.Side == model.OrderSideBuy {
		held := qty.Mul(o.reservePrice)
		e.wallet.move(o.quote, held.Sub(cost), held.Neg())
		e.wallet.move(o.base, qty, decimal.Zero)
		return
	}
	e.wallet.move(o.base, decimal.Zero, qty.Neg())
	e.wallet.move(o.quote, cost, decimal.Zero)
}

// release returns the unfilled part of o's reservation.
func (e *Exchange) release(o *paperOrder) {
	if !o.funded {
		return
	}
	remaining := o.snap.Quantity.Sub(o.snap.FilledQuantity)
	if remaining.Sign() <= 0 {
		return
	}
	asset, amount := o.base, remaining
	if o.snap.Side == model.OrderSideBuy {
		asset, amount = o.quote, remaining.Mul(o.reservePrice)
	}
	e.wallet.move(asset, amount, amount.Neg())
}

// Balances lists every asset with a non-zero position, sorted by name. An
// exchange built without balances reports none.
func (e *Exchange) Balances(ctx context.Context) ([]model.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFault(OpBalances); err != nil {
		return nil, err
	}
	if e.wallet == nil {
		return []model.Balance{}, nil
	}
	out := make([]model.Balance, 0, len(e.wallet.free))
	seen := make(map[string]bool)
	for _, m := range []map[string]decimal.Decimal{e.wallet.free, e.wallet.locked} {
		for asset := range m {
			if seen[asset] {
				continue
			}
			seen[asset] = true
			b := model.Balance{Asset: asset, Free: e.wallet.free[asset], Locked: e.wallet.locked[asset]}
			if b.Total().IsZero() {
				continue
			}
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

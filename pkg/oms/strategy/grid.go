package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/joripage/orderexec/pkg/oms/precision"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	errGridNotActive = errors.New("grid is not active")
	errGridNotPaused = errors.New("grid is not paused")
)

const rootPrecision = 24

type gridLevel struct {
	price   decimal.Decimal
	orderID string
}

type gridFill struct {
	level int
	side  model.OrderSide
}

// Grid keeps a ladder of resting orders around a reference price and
// replaces each filled order with the opposite side one level away.
type Grid struct {
	base
	params model.GridParams

	quantity decimal.Decimal
	levels   []gridLevel
	gap      int
	byOrder  map[string]int

	deferred   []gridFill
	autoPaused bool
}

func NewGrid(env *Env, p model.GridParams) *Grid {
	if p.Spacing == "" {
		p.Spacing = model.GridSpacingArithmetic
	}
	return &Grid{
		base:    newBase(env, model.StrategyKindGrid, model.GridDeploying),
		params:  p,
		byOrder: make(map[string]int),
	}
}

func powInt(x decimal.Decimal, n int) decimal.Decimal {
	out := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		out = out.Mul(x).Round(rootPrecision)
	}
	return out
}

// nthRoot solves r^n = x by Newton iteration for x > 0.
func nthRoot(x decimal.Decimal, n int) decimal.Decimal {
	if n <= 1 || x.Sign() <= 0 {
		return x
	}
	nd := decimal.NewFromInt(int64(n))
	nm1 := decimal.NewFromInt(int64(n - 1))
	epsilon := decimal.New(1, -rootPrecision+4)

	guess := decimal.NewFromFloat(math.Pow(x.InexactFloat64(), 1/float64(n)))
	if guess.Sign() <= 0 {
		guess = decimal.NewFromInt(1)
	}
	for i := 0; i < 64; i++ {
		next := nm1.Mul(guess).Add(x.DivRound(powInt(guess, n-1), rootPrecision)).DivRound(nd, rootPrecision)
		if next.Sub(guess).Abs().LessThan(epsilon) {
			return next
		}
		guess = next
	}
	return guess
}

// GridLevels spaces k prices from lower to upper inclusive and snaps them
// to tick.
func GridLevels(lower, upper decimal.Decimal, k int, spacing model.GridSpacing, tick decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, k)
	switch spacing {
	case model.GridSpacingGeometric:
		ratio := nthRoot(upper.DivRound(lower, rootPrecision), k-1)
		p := lower
		for i := 0; i < k; i++ {
			out[i] = precision.Price(p, tick)
			p = p.Mul(ratio).Round(rootPrecision)
		}
	default:
		step := upper.Sub(lower).DivRound(decimal.NewFromInt(int64(k-1)), rootPrecision)
		for i := 0; i < k; i++ {
			out[i] = precision.Price(lower.Add(step.Mul(decimal.NewFromInt(int64(i)))), tick)
		}
	}
	out[k-1] = precision.Price(upper, tick)
	return out
}

// nearest returns the index of the level closest to ref; ties go low.
func nearest(levels []gridLevel, ref decimal.Decimal) int {
	best := 0
	for i := range levels {
		if levels[i].price.Sub(ref).Abs().LessThan(levels[best].price.Sub(ref).Abs()) {
			best = i
		}
	}
	return best
}

func (g *Grid) sideAt(i int) model.OrderSide {
	if i < g.gap {
		return model.OrderSideBuy
	}
	return model.OrderSideSell
}

func (g *Grid) Validate(ctx context.Context) error {
	p := g.params
	if p.Levels < 2 {
		return invalidf("grid needs at least 2 levels, got %d", p.Levels)
	}
	if p.Lower.Sign() <= 0 || !p.Upper.GreaterThan(p.Lower) {
		return invalidf("grid bounds [%s, %s]", p.Lower, p.Upper)
	}
	if p.Spacing != model.GridSpacingArithmetic && p.Spacing != model.GridSpacingGeometric {
		return invalidf("grid spacing %q", p.Spacing)
	}
	rules, err := g.env.rules(ctx, p.Symbol)
	if err != nil {
		return err
	}

	prices := GridLevels(p.Lower, p.Upper, p.Levels, p.Spacing, rules.TickSize)
	g.levels = make([]gridLevel, len(prices))
	for i, price := range prices {
		if i > 0 && !price.GreaterThan(prices[i-1]) {
			return invalidf("levels %s and %s collapse at tick %s", prices[i-1], price, rules.TickSize)
		}
		g.levels[i] = gridLevel{price: price}
	}

	ref := p.ReferencePrice
	if ref.Sign() <= 0 {
		if ref, err = g.env.mid(ctx, p.Symbol); err != nil {
			return fmt.Errorf("grid reference price: %w", err)
		}
	}
	g.gap = nearest(g.levels, ref)

	buyNotional, sellNotional := decimal.Zero, decimal.Zero
	for i, lvl := range g.levels {
		if i == g.gap {
			continue
		}
		order, err := g.env.prepare(ctx, orderSpec{
			StrategyID: g.id,
			Symbol:     p.Symbol,
			Side:       g.sideAt(i),
			Type:       model.OrderTypeLimit,
			Quantity:   p.QuantityPerLevel,
			Price:      lvl.price,
		})
		if err != nil {
			return fmt.Errorf("level %s: %w", lvl.price, err)
		}
		g.quantity = order.Quantity
		notional := order.Quantity.Mul(order.Price)
		if order.Side == model.OrderSideBuy {
			buyNotional = buyNotional.Add(notional)
		} else {
			sellNotional = sellNotional.Add(notional)
		}
	}
	if p.MaxBuyNotional.Sign() > 0 && buyNotional.GreaterThan(p.MaxBuyNotional) {
		return invalidf("buy notional %s exceeds cap %s", buyNotional, p.MaxBuyNotional)
	}
	if p.MaxSellNotional.Sign() > 0 && sellNotional.GreaterThan(p.MaxSellNotional) {
		return invalidf("sell notional %s exceeds cap %s", sellNotional, p.MaxSellNotional)
	}

	g.params.ReferencePrice = ref
	g.params.QuantityPerLevel = g.quantity
	return nil
}

func (g *Grid) Start(ctx context.Context) {
	for i := range g.levels {
		if i == g.gap {
			continue
		}
		if err := g.place(ctx, i, g.sideAt(i)); err != nil {
			g.failure = err.Error()
			g.env.Logger.Warn(ctx, "grid level not deployed",
				zap.String("strategy_id", g.id),
				zap.String("price", g.levels[i].price.String()),
				zap.Error(err))
		}
	}
	if g.state == model.GridDeploying {
		g.setState(ctx, model.GridActive)
	}
}

func (g *Grid) place(ctx context.Context, i int, side model.OrderSide) error {
	order, err := g.env.prepare(ctx, orderSpec{
		StrategyID: g.id,
		Symbol:     g.params.Symbol,
		Side:       side,
		Type:       model.OrderTypeLimit,
		Quantity:   g.quantity,
		Price:      g.levels[i].price,
	})
	if err != nil {
		return err
	}
	g.own(order.ClientOrderID)
	g.byOrder[order.ClientOrderID] = i
	g.levels[i].orderID = order.ClientOrderID

	if _, err := g.env.submit(ctx, order, true); err != nil {
		g.levels[i].orderID = ""
		return err
	}
	return nil
}

// occupied reports whether level i holds a live order.
func (g *Grid) occupied(i int) (model.Order, bool) {
	id := g.levels[i].orderID
	if id == "" {
		return model.Order{}, false
	}
	o, _ := g.order(id)
	return o, !o.IsEnd()
}

func (g *Grid) OnOrderEvent(ctx context.Context, ev model.OrderEvent) {
	i, ok := g.byOrder[ev.ClientOrderID]
	if !ok {
		return
	}
	if g.state == model.GridTornDown {
		// accepted after teardown
		if !ev.To.IsTerminal() {
			if err := g.env.cancel(ctx, ev.ClientOrderID); err != nil {
				g.env.Logger.Warn(ctx, "grid late cancel", zap.String("client_order_id", ev.ClientOrderID), zap.Error(err))
			}
		}
		return
	}
	if !ev.To.IsTerminal() {
		return
	}
	if g.levels[i].orderID == ev.ClientOrderID {
		g.levels[i].orderID = ""
	}
	if ev.To != model.OrderStatusFilled {
		return
	}

	fill := gridFill{level: i, side: ev.Side}
	if g.state == model.GridPaused {
		g.deferred = append(g.deferred, fill)
		return
	}
	g.regenerate(ctx, fill)
}

func (g *Grid) regenerate(ctx context.Context, fill gridFill) {
	target := fill.level + 1
	if fill.side == model.OrderSideSell {
		target = fill.level - 1
	}
	if target < 0 || target >= len(g.levels) {
		g.env.Logger.Info(ctx, "grid fill at edge, nothing to regenerate",
			zap.String("strategy_id", g.id),
			zap.String("price", g.levels[fill.level].price.String()))
		return
	}

	if o, busy := g.occupied(target); busy {
		g.raise(ctx, model.AnomalyGridLevelOccupied, &o,
			fmt.Sprintf("level %s already holds %s", g.levels[target].price, o.ClientOrderID))
		return
	}
	side := fill.side.Opposite()
	if err := g.place(ctx, target, side); err != nil {
		o := model.Order{Symbol: g.params.Symbol}
		g.raise(ctx, model.AnomalyGridRegenerationFailed, &o,
			fmt.Sprintf("%s at %s: %v", side, g.levels[target].price, err))
	}
}

func (g *Grid) PriceSymbols() []string {
	if !g.params.PauseOutsideBounds {
		return nil
	}
	return []string{g.params.Symbol}
}

func (g *Grid) OnTick(ctx context.Context, tick Tick) {
	if tick.Kind != TickPrice || tick.Symbol != g.params.Symbol || !g.params.PauseOutsideBounds {
		return
	}
	outside := tick.Price.LessThan(g.params.Lower) || tick.Price.GreaterThan(g.params.Upper)
	switch {
	case outside && g.state == model.GridActive:
		g.env.Logger.Info(ctx, "grid price left bounds, pausing",
			zap.String("strategy_id", g.id), zap.String("price", tick.Price.String()))
		g.setState(ctx, model.GridPaused)
		g.autoPaused = true
	case !outside && g.state == model.GridPaused && g.autoPaused:
		_ = g.Resume(ctx)
	}
}

func (g *Grid) Pause(ctx context.Context) error {
	if g.state != model.GridActive {
		return errGridNotActive
	}
	g.setState(ctx, model.GridPaused)
	g.autoPaused = false
	return nil
}

// Resume reactivates the grid and regenerates fills seen while paused.
func (g *Grid) Resume(ctx context.Context) error {
	if g.state != model.GridPaused {
		return errGridNotPaused
	}
	g.setState(ctx, model.GridActive)
	g.autoPaused = false

	pending := g.deferred
	g.deferred = nil
	for _, fill := range pending {
		g.regenerate(ctx, fill)
	}
	return nil
}

// Cancel tears the grid down and cancels every live grid order.
func (g *Grid) Cancel(ctx context.Context) {
	if g.state == model.GridTornDown {
		return
	}
	g.end(ctx, model.GridTornDown)
	g.deferred = nil
	for _, id := range g.children {
		if err := g.env.cancel(ctx, id); err != nil {
			g.env.Logger.Warn(ctx, "grid teardown cancel", zap.String("client_order_id", id), zap.Error(err))
		}
	}
}

func (g *Grid) Done() bool {
	return g.state == model.GridTornDown
}

// RestingAt returns the live order ids per level price.
func (g *Grid) RestingAt() map[string]string {
	out := make(map[string]string)
	for i := range g.levels {
		if o, busy := g.occupied(i); busy {
			out[g.levels[i].price.String()] = o.ClientOrderID
		}
	}
	return out
}

func (g *Grid) Snapshot() model.StrategyInstance {
	return g.instance(g.params)
}

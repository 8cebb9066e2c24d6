// Package paper is an in-process exchange that fills resting orders as the
// last trade price moves. It backs demo mode and the engine's tests.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joripage/orderexec/pkg/exchange"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const tickBuffer = 256

type Config struct {
	Symbols []model.SymbolRules
	Prices  map[string]decimal.Decimal
	// SpreadTicks is the synthetic half spread around the last price.
	SpreadTicks int64
	// Balances seeds the account's free funds per asset. Nil disables
	// balance checks.
	Balances map[string]decimal.Decimal
}

type Exchange struct {
	mu sync.Mutex

	rules  map[string]model.SymbolRules
	books  map[string]*book
	orders map[string]*paperOrder
	last   map[string]decimal.Decimal

	subs   map[string]map[int]chan exchange.PriceTick
	subSeq int

	wallet *wallet

	faults      map[Op][]error
	seq         int64
	spreadTicks int64
	now         func() time.Time
}

type Option func(*Exchange)

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

func New(cfg Config, opts ...Option) *Exchange {
	e := &Exchange{
		rules:       make(map[string]model.SymbolRules),
		books:       make(map[string]*book),
		orders:      make(map[string]*paperOrder),
		last:        make(map[string]decimal.Decimal),
		subs:        make(map[string]map[int]chan exchange.PriceTick),
		faults:      make(map[Op][]error),
		spreadTicks: cfg.SpreadTicks,
		now:         time.Now,
	}
	if e.spreadTicks <= 0 {
		e.spreadTicks = 1
	}
	for _, r := range cfg.Symbols {
		e.rules[r.Symbol] = r
		e.books[r.Symbol] = newBook(r.Symbol)
	}
	if cfg.Balances != nil {
		e.wallet = newWallet(cfg.Balances)
	}
	for symbol, p := range cfg.Prices {
		e.last[symbol] = p
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ exchange.Client = (*Exchange)(nil)

func (e *Exchange) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (model.OrderSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFault(OpPlace); err != nil {
		return model.OrderSnapshot{}, err
	}

	rules, ok := e.rules[req.Symbol]
	if !ok {
		return model.OrderSnapshot{}, fmt.Errorf("unknown symbol %s: %w", req.Symbol, model.ErrInvalidOrderParameters)
	}
	if rules.Suspended {
		return model.OrderSnapshot{}, fmt.Errorf("%s: %w", req.Symbol, model.ErrSymbolSuspended)
	}
	if !req.Side.Valid() || req.Quantity.Sign() <= 0 {
		return model.OrderSnapshot{}, fmt.Errorf("side %q quantity %s: %w", req.Side, req.Quantity, model.ErrInvalidOrderParameters)
	}
	if req.Type != model.OrderTypeMarket && req.Price.Sign() <= 0 {
		return model.OrderSnapshot{}, fmt.Errorf("price %s: %w", req.Price, model.ErrInvalidOrderParameters)
	}

	last, hasLast := e.last[req.Symbol]
	e.seq++
	o := &paperOrder{
		seq: e.seq,
		snap: model.OrderSnapshot{
			ExchangeOrderID: fmt.Sprintf("PX-%d", e.seq),
			ClientOrderID:   req.ClientOrderID,
			Symbol:          req.Symbol,
			Side:            req.Side,
			Type:            req.Type,
			Quantity:        req.Quantity,
			Price:           req.Price,
			Status:          model.OrderStatusOpen,
			UpdatedAt:       e.now(),
		},
		stopPrice: req.StopPrice,
	}

	switch req.Type {
	case model.OrderTypeMarket:
		if !hasLast {
			return model.OrderSnapshot{}, fmt.Errorf("no market for %s: %w", req.Symbol, model.ErrInvalidOrderParameters)
		}
	case model.OrderTypeLimit:
	case model.OrderTypeStopLimit:
		if req.StopPrice.Sign() <= 0 {
			return model.OrderSnapshot{}, fmt.Errorf("stop price %s: %w", req.StopPrice, model.ErrInvalidOrderParameters)
		}
		if hasLast && stopReached(o, last) {
			return model.OrderSnapshot{}, fmt.Errorf("stop %s would trigger immediately: %w", req.StopPrice, model.ErrInvalidOrderParameters)
		}
	default:
		return model.OrderSnapshot{}, fmt.Errorf("order type %q: %w", req.Type, model.ErrInvalidOrderParameters)
	}
	if err := e.reserve(o, rules, last); err != nil {
		return model.OrderSnapshot{}, err
	}

	switch req.Type {
	case model.OrderTypeMarket:
		e.fill(o, o.snap.Quantity, last)
	case model.OrderTypeLimit:
		if hasLast && marketable(o, last) {
			e.fill(o, o.snap.Quantity, last)
		} else {
			e.books[req.Symbol].addToBook(o)
		}
	case model.OrderTypeStopLimit:
		e.books[req.Symbol].addStop(o)
	}

	e.orders[o.snap.ExchangeOrderID] = o
	return o.snap, nil
}

func marketable(o *paperOrder, last decimal.Decimal) bool {
	if o.snap.Side == model.OrderSideBuy {
		return o.snap.Price.GreaterThanOrEqual(last)
	}
	return o.snap.Price.LessThanOrEqual(last)
}

// fill must be called with e.mu held.
func (e *Exchange) fill(o *paperOrder, qty, price decimal.Decimal) {
	remaining := o.snap.Quantity.Sub(o.snap.FilledQuantity)
	if qty.GreaterThan(remaining) {
		qty = remaining
	}
	if qty.Sign() <= 0 {
		return
	}
	e.settleFill(o, qty, price)
	notional := o.snap.AvgFillPrice.Mul(o.snap.FilledQuantity).Add(price.Mul(qty))
	o.snap.FilledQuantity = o.snap.FilledQuantity.Add(qty)
	o.snap.AvgFillPrice = notional.Div(o.snap.FilledQuantity)
	if o.snap.FilledQuantity.Equal(o.snap.Quantity) {
		o.snap.Status = model.OrderStatusFilled
	} else {
		o.snap.Status = model.OrderStatusPartiallyFilled
	}
	o.snap.UpdatedAt = e.now()
}

func (e *Exchange) find(symbol, exchangeOrderID string) (*paperOrder, error) {
	o, ok := e.orders[exchangeOrderID]
	if !ok || (symbol != "" && o.snap.Symbol != symbol) {
		return nil, fmt.Errorf("order %s: %w", exchangeOrderID, model.ErrNotFound)
	}
	return o, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFault(OpCancel); err != nil {
		return err
	}
	o, err := e.find(symbol, exchangeOrderID)
	if err != nil {
		return err
	}
	switch {
	case o.snap.Status == model.OrderStatusFilled:
		return fmt.Errorf("order %s: %w", exchangeOrderID, model.ErrAlreadyFilled)
	case !o.live():
		return fmt.Errorf("order %s is %s: %w", exchangeOrderID, o.snap.Status, model.ErrNotFound)
	}
	e.release(o)
	o.snap.Status = model.OrderStatusCancelled
	o.snap.UpdatedAt = e.now()
	return nil
}

func (e *Exchange) GetOrder(ctx context.Context, symbol, exchangeOrderID string) (model.OrderSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFault(OpGet); err != nil {
		return model.OrderSnapshot{}, err
	}
	o, err := e.find(symbol, exchangeOrderID)
	if err != nil {
		return model.OrderSnapshot{}, err
	}
	return o.snap, nil
}

func (e *Exchange) GetOrderBook(ctx context.Context, symbol string) (exchange.BookTop, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFault(OpBook); err != nil {
		return exchange.BookTop{}, err
	}
	last, ok := e.last[symbol]
	if !ok {
		return exchange.BookTop{}, fmt.Errorf("no price for %s: %w", symbol, model.ErrNotFound)
	}
	tick := e.rules[symbol].TickSize
	if tick.Sign() <= 0 {
		tick = decimal.New(1, -2)
	}
	half := tick.Mul(decimal.NewFromInt(e.spreadTicks))
	return exchange.BookTop{
		Symbol:  symbol,
		BestBid: last.Sub(half),
		BestAsk: last.Add(half),
		At:      e.now(),
	}, nil
}

func (e *Exchange) GetSymbolInfo(ctx context.Context, symbol string) (model.SymbolRules, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules, ok := e.rules[symbol]
	if !ok {
		return model.SymbolRules{}, fmt.Errorf("symbol %s: %w", symbol, model.ErrNotFound)
	}
	return rules, nil
}

func (e *Exchange) SubscribePriceUpdates(ctx context.Context, symbol string) (<-chan exchange.PriceTick, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[symbol]; !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, model.ErrNotFound)
	}
	if e.subs[symbol] == nil {
		e.subs[symbol] = make(map[int]chan exchange.PriceTick)
	}
	e.subSeq++
	id := e.subSeq
	ch := make(chan exchange.PriceTick, tickBuffer)
	e.subs[symbol][id] = ch

	go func() {
		<-ctx.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[symbol][id]; ok {
			delete(e.subs[symbol], id)
			close(c)
		}
	}()
	return ch, nil
}

func (e *Exchange) OpenOrders(ctx context.Context, symbol string) ([]model.OrderSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.takeFault(OpOpenOrders); err != nil {
		return nil, err
	}
	var live []*paperOrder
	for _, o := range e.orders {
		if o.snap.Symbol == symbol && o.live() {
			live = append(live, o)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	out := make([]model.OrderSnapshot, 0, len(live))
	for _, o := range live {
		out = append(out, o.snap)
	}
	return out, nil
}

// SetPrice records a trade at price, fires reached stops, fills every
// resting order the price crosses and publishes the tick.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last[symbol] = price
	b, ok := e.books[symbol]
	if ok {
		for _, o := range b.triggerStops(price) {
			if marketable(o, price) {
				e.fill(o, o.snap.Quantity, o.snap.Price)
			} else {
				b.addToBook(o)
			}
		}
		for _, o := range b.crossed(price) {
			e.fill(o, o.snap.Quantity, o.snap.Price)
		}
	}

	tick := exchange.PriceTick{Symbol: symbol, Price: price, At: e.now()}
	for _, ch := range e.subs[symbol] {
		select {
		case ch <- tick:
		default:
			zap.S().Warnw("paper: dropping price tick for slow subscriber", "symbol", symbol)
		}
	}
}

// LastPrice returns the last trade price of symbol.
func (e *Exchange) LastPrice(symbol string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.last[symbol]
	return p, ok
}

// Fill executes qty of an order at price as if a counterparty traded it.
func (e *Exchange) Fill(exchangeOrderID string, qty, price decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.find("", exchangeOrderID)
	if err != nil {
		return err
	}
	if !o.live() {
		return fmt.Errorf("order %s is %s: %w", exchangeOrderID, o.snap.Status, model.ErrInvalidOrderParameters)
	}
	e.fill(o, qty, price)
	return nil
}

// Expire ends an order on the venue's initiative.
func (e *Exchange) Expire(exchangeOrderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.find("", exchangeOrderID)
	if err != nil {
		return err
	}
	if !o.live() {
		return fmt.Errorf("order %s is %s: %w", exchangeOrderID, o.snap.Status, model.ErrInvalidOrderParameters)
	}
	e.release(o)
	o.snap.Status = model.OrderStatusExpired
	o.snap.UpdatedAt = e.now()
	return nil
}

// AddExternalOrder rests an order that was not placed through this engine.
func (e *Exchange) AddExternalOrder(symbol string, side model.OrderSide, qty, price decimal.Decimal) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	o := &paperOrder{
		seq: e.seq,
		snap: model.OrderSnapshot{
			ExchangeOrderID: fmt.Sprintf("PX-%d", e.seq),
			Symbol:          symbol,
			Side:            side,
			Type:            model.OrderTypeLimit,
			Quantity:        qty,
			Price:           price,
			Status:          model.OrderStatusOpen,
			UpdatedAt:       e.now(),
		},
	}
	e.orders[o.snap.ExchangeOrderID] = o
	if b, ok := e.books[symbol]; ok {
		b.addToBook(o)
	}
	return o.snap.ExchangeOrderID
}

// SetSuspended toggles trading on symbol.
func (e *Exchange) SetSuspended(symbol string, suspended bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.rules[symbol]
	r.Suspended = suspended
	e.rules[symbol] = r
}

// DisconnectFeeds closes every price stream of symbol.
func (e *Exchange) DisconnectFeeds(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, ch := range e.subs[symbol] {
		delete(e.subs[symbol], id)
		close(ch)
	}
}

// RestingOrders counts live limit orders on both sides of symbol's book.
func (e *Exchange) RestingOrders(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[symbol]
	if !ok {
		return 0
	}
	return b.depth(model.OrderSideBuy) + b.depth(model.OrderSideSell)
}

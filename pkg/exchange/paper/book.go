package paper

import (
	"container/heap"

	"github.com/gammazero/deque"
	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

type paperOrder struct {
	snap      model.OrderSnapshot
	stopPrice decimal.Decimal
	triggered bool
	seq       int64

	// funded orders hold a reservation in the account wallet. Buys reserve
	// quote at reservePrice, sells reserve base.
	funded       bool
	reservePrice decimal.Decimal
	base, quote  string
}

func (o *paperOrder) live() bool {
	return !o.snap.Status.IsTerminal()
}

// book holds resting orders per price level. Cancelled orders are dropped
// lazily when their level is next inspected.
type book struct {
	symbol string

	buyOrders  map[string]*deque.Deque[*paperOrder]
	sellOrders map[string]*deque.Deque[*paperOrder]

	buyHeap  *PriceHeap
	sellHeap *PriceHeap

	stops []*paperOrder
}

func newBook(symbol string) *book {
	buyHeap := NewPriceHeap(func(i, j decimal.Decimal) bool { return i.GreaterThan(j) }) // Max-heap
	sellHeap := NewPriceHeap(func(i, j decimal.Decimal) bool { return i.LessThan(j) })   // Min-heap

	return &book{
		symbol:     symbol,
		buyOrders:  make(map[string]*deque.Deque[*paperOrder]),
		sellOrders: make(map[string]*deque.Deque[*paperOrder]),
		buyHeap:    buyHeap,
		sellHeap:   sellHeap,
	}
}

func (b *book) sides(side model.OrderSide) (map[string]*deque.Deque[*paperOrder], *PriceHeap) {
	if side == model.OrderSideBuy {
		return b.buyOrders, b.buyHeap
	}
	return b.sellOrders, b.sellHeap
}

func (b *book) addToBook(o *paperOrder) {
	levels, priceHeap := b.sides(o.snap.Side)
	key := priceKey(o.snap.Price)
	if levels[key] == nil {
		levels[key] = &deque.Deque[*paperOrder]{}
		heap.Push(priceHeap, o.snap.Price)
	}
	levels[key].PushBack(o)
}

func (b *book) addStop(o *paperOrder) {
	b.stops = append(b.stops, o)
}

func stopReached(o *paperOrder, last decimal.Decimal) bool {
	if o.snap.Side == model.OrderSideBuy {
		return last.GreaterThanOrEqual(o.stopPrice)
	}
	return last.LessThanOrEqual(o.stopPrice)
}

// triggerStops removes and returns live stops reached by last.
func (b *book) triggerStops(last decimal.Decimal) []*paperOrder {
	var fired []*paperOrder
	kept := b.stops[:0]
	for _, o := range b.stops {
		switch {
		case !o.live():
		case stopReached(o, last):
			o.triggered = true
			fired = append(fired, o)
		default:
			kept = append(kept, o)
		}
	}
	b.stops = kept
	return fired
}

// pruneLevel drops dead orders at the front of the best level and removes
// the level once empty. It reports whether a live order remains at the top.
func (b *book) pruneLevel(levels map[string]*deque.Deque[*paperOrder], priceHeap *PriceHeap) (decimal.Decimal, bool) {
	for {
		best, ok := priceHeap.Peek()
		if !ok {
			return decimal.Zero, false
		}
		key := priceKey(best)
		q := levels[key]
		for q != nil && q.Len() > 0 && !q.Front().live() {
			q.PopFront()
		}
		if q == nil || q.Len() == 0 {
			heap.Pop(priceHeap)
			delete(levels, key)
			continue
		}
		return best, true
	}
}

// crossed pops every live resting order the last trade price reaches:
// bids at or above last and asks at or below it.
func (b *book) crossed(last decimal.Decimal) []*paperOrder {
	var out []*paperOrder
	out = append(out, b.drain(model.OrderSideBuy, func(p decimal.Decimal) bool { return p.GreaterThanOrEqual(last) })...)
	out = append(out, b.drain(model.OrderSideSell, func(p decimal.Decimal) bool { return p.LessThanOrEqual(last) })...)
	return out
}

func (b *book) drain(side model.OrderSide, reached func(decimal.Decimal) bool) []*paperOrder {
	levels, priceHeap := b.sides(side)
	var out []*paperOrder
	for {
		best, ok := b.pruneLevel(levels, priceHeap)
		if !ok || !reached(best) {
			return out
		}
		key := priceKey(best)
		q := levels[key]
		for q.Len() > 0 {
			o := q.PopFront()
			if o.live() {
				out = append(out, o)
			}
		}
	}
}

func (b *book) best(side model.OrderSide) (decimal.Decimal, bool) {
	levels, priceHeap := b.sides(side)
	return b.pruneLevel(levels, priceHeap)
}

func (b *book) depth(side model.OrderSide) int {
	levels, _ := b.sides(side)
	n := 0
	for _, q := range levels {
		for i := 0; i < q.Len(); i++ {
			if q.At(i).live() {
				n++
			}
		}
	}
	return n
}

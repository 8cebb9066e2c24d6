// Package strategy holds the execution engines. Every composite strategy is
// driven by its own Runner and only ever touched from that goroutine.
package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TickKind int

const (
	TickPrice TickKind = iota
	TickTimer
)

// Tick is a price update or a scheduled wake-up.
type Tick struct {
	Kind   TickKind
	Symbol string
	Price  decimal.Decimal
	// Slot is the index of the schedule entry that fired.
	Slot int
	At   time.Time
}

type Strategy interface {
	ID() string
	Kind() model.StrategyKind
	// Validate checks and normalizes the parameters. It must succeed before
	// Start is called.
	Validate(ctx context.Context) error
	Start(ctx context.Context)
	OnOrderEvent(ctx context.Context, ev model.OrderEvent)
	OnTick(ctx context.Context, tick Tick)
	Cancel(ctx context.Context)
	// Done reports the state machine reached a terminal state. Children may
	// still be live.
	Done() bool
	ChildrenTerminal() bool
	Snapshot() model.StrategyInstance
}

// PriceWatcher is implemented by strategies that consume price ticks.
type PriceWatcher interface {
	PriceSymbols() []string
}

// Scheduler is implemented by strategies that wake up at fixed offsets
// from their start.
type Scheduler interface {
	Schedule() []time.Duration
}

type Pausable interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// base carries the bookkeeping shared by every engine.
type base struct {
	env       *Env
	id        string
	kind      model.StrategyKind
	state     model.StrategyState
	children  []string
	failure   string
	anomalies []model.AnomalyKind
	createdAt time.Time
	endedAt   time.Time
}

func newBase(env *Env, kind model.StrategyKind, initial model.StrategyState) base {
	return base{
		env:       env,
		id:        env.NewID(),
		kind:      kind,
		state:     initial,
		createdAt: env.Now(),
	}
}

func (b *base) ID() string               { return b.id }
func (b *base) Kind() model.StrategyKind { return b.kind }

func (b *base) setState(ctx context.Context, s model.StrategyState) {
	if b.state == s {
		return
	}
	b.env.Logger.Info(ctx, "strategy state",
		zap.String("strategy_id", b.id),
		zap.String("kind", string(b.kind)),
		zap.String("from", string(b.state)),
		zap.String("to", string(s)))
	b.state = s
}

func (b *base) end(ctx context.Context, s model.StrategyState) {
	b.setState(ctx, s)
	if b.endedAt.IsZero() {
		b.endedAt = b.env.Now()
	}
}

func (b *base) own(clientOrderID string) {
	b.children = append(b.children, clientOrderID)
}

func (b *base) owns(clientOrderID string) bool {
	for _, id := range b.children {
		if id == clientOrderID {
			return true
		}
	}
	return false
}

func (b *base) raise(ctx context.Context, kind model.AnomalyKind, order *model.Order, detail string) {
	b.anomalies = append(b.anomalies, kind)
	b.env.anomaly(ctx, kind, b.id, order, detail)
}

// order reads a child from the store. Evicted children read as terminal.
func (b *base) order(id string) (model.Order, bool) {
	o, err := b.env.Store.Get(id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Order{ClientOrderID: id, Status: model.OrderStatusExpired}, false
	}
	return o, err == nil
}

// ChildrenTerminal reports every child order is terminal.
func (b *base) ChildrenTerminal() bool {
	for _, id := range b.children {
		if o, _ := b.order(id); !o.IsEnd() {
			return false
		}
	}
	return true
}

func (b *base) instance(params any) model.StrategyInstance {
	return model.StrategyInstance{
		StrategyID:  b.id,
		Kind:        b.kind,
		Params:      params,
		ChildOrders: append([]string(nil), b.children...),
		State:       b.state,
		Failure:     b.failure,
		Anomalies:   append([]model.AnomalyKind(nil), b.anomalies...),
		CreatedAt:   b.createdAt,
		CompletedAt: b.endedAt,
	}
}

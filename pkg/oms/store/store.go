// Package store is the single source of truth for order records.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	eventstore "github.com/joripage/orderexec/pkg/oms/event_store"
	"github.com/joripage/orderexec/pkg/oms/model"
)

// Notifier receives committed deltas and anomalies.
type Notifier interface {
	OnOrderEvent(ctx context.Context, ev model.OrderEvent)
	OnAnomaly(ctx context.Context, a model.Anomaly)
}

// Change is what one store operation committed.
type Change struct {
	Events  []model.OrderEvent
	Anomaly *model.Anomaly
}

func (c Change) Changed() bool {
	return len(c.Events) > 0
}

func (c Change) Publish(ctx context.Context, n Notifier) {
	if n == nil {
		return
	}
	for _, ev := range c.Events {
		n.OnOrderEvent(ctx, ev)
	}
	if c.Anomaly != nil {
		n.OnAnomaly(ctx, *c.Anomaly)
	}
}

func (c *Change) merge(o Change) {
	c.Events = append(c.Events, o.Events...)
	if o.Anomaly != nil {
		c.Anomaly = o.Anomaly
	}
}

type entry struct {
	mu    sync.Mutex
	seq   uint64
	order model.Order
}

type Store struct {
	mu           sync.RWMutex
	seq          uint64
	orders       map[string]*entry
	byExchangeID map[string]string
	byStrategy   map[string][]string

	events eventstore.EventStore
	now    func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithEventStore(es eventstore.EventStore) Option {
	return func(s *Store) { s.events = es }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		orders:       make(map[string]*entry),
		byExchangeID: make(map[string]string),
		byStrategy:   make(map[string][]string),
		events:       eventstore.NewInMemoryEventStore(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put inserts a new order record, normally in PENDING.
func (s *Store) Put(order model.Order) error {
	if order.ClientOrderID == "" {
		return errEmptyClientOrderID
	}
	if order.Status == "" {
		order.Status = model.OrderStatusPending
	}
	now := s.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ClientOrderID]; ok {
		return fmt.Errorf("%w: %s", errDuplicateOrder, order.ClientOrderID)
	}
	s.seq++
	s.orders[order.ClientOrderID] = &entry{seq: s.seq, order: order}
	if order.ExchangeOrderID != "" {
		s.byExchangeID[order.ExchangeOrderID] = order.ClientOrderID
	}
	if order.StrategyID != "" {
		s.byStrategy[order.StrategyID] = append(s.byStrategy[order.StrategyID], order.ClientOrderID)
	}
	return nil
}

func (s *Store) lookup(clientOrderID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.orders[clientOrderID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("order %s: %w", clientOrderID, model.ErrNotFound)
	}
	return e, nil
}

func (s *Store) Get(clientOrderID string) (model.Order, error) {
	e, err := s.lookup(clientOrderID)
	if err != nil {
		return model.Order{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order, nil
}

func (s *Store) GetByExchangeID(exchangeOrderID string) (model.Order, error) {
	s.mu.RLock()
	id, ok := s.byExchangeID[exchangeOrderID]
	s.mu.RUnlock()
	if !ok {
		return model.Order{}, fmt.Errorf("exchange order %s: %w", exchangeOrderID, model.ErrNotFound)
	}
	return s.Get(id)
}

// Update applies mutate to a copy of the order and commits it when the
// resulting status change is legal. Identity fields cannot be mutated.
func (s *Store) Update(clientOrderID string, mutate func(o *model.Order)) (Change, error) {
	e, err := s.lookup(clientOrderID)
	if err != nil {
		return Change{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	after := e.order
	mutate(&after)
	return s.commit(e, after), nil
}

// ApplySnapshot folds an exchange observation into the record. A PENDING
// order observed past OPEN passes through OPEN first, so one call may
// produce two events.
func (s *Store) ApplySnapshot(clientOrderID string, snap model.OrderSnapshot) (Change, error) {
	e, err := s.lookup(clientOrderID)
	if err != nil {
		return Change{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var change Change
	if snap.Status == "" || snap.Status == model.OrderStatusPending {
		return change, nil
	}

	if e.order.Status == model.OrderStatusPending && model.OrderStatusOpen.CanTransitionTo(snap.Status) {
		step := e.order
		step.Status = model.OrderStatusOpen
		step.ExchangeOrderID = snap.ExchangeOrderID
		change.merge(s.commit(e, step))
	}

	next := e.order
	next.Status = snap.Status
	if snap.ExchangeOrderID != "" {
		next.ExchangeOrderID = snap.ExchangeOrderID
	}
	next.FilledQuantity = snap.FilledQuantity
	if !snap.AvgFillPrice.IsZero() {
		next.AvgFillPrice = snap.AvgFillPrice
	}
	change.merge(s.commit(e, next))
	return change, nil
}

// commit must be called with e.mu held.
func (s *Store) commit(e *entry, after model.Order) Change {
	before := e.order
	after.ClientOrderID = before.ClientOrderID
	after.StrategyID = before.StrategyID
	after.Symbol = before.Symbol
	after.Side = before.Side
	after.CreatedAt = before.CreatedAt

	now := s.now()

	if before.Status.IsTerminal() {
		if after.Status == before.Status {
			return Change{}
		}
		return Change{Anomaly: &model.Anomaly{
			Kind:            model.AnomalyTerminalTransition,
			StrategyID:      before.StrategyID,
			ClientOrderID:   before.ClientOrderID,
			ExchangeOrderID: before.ExchangeOrderID,
			Symbol:          before.Symbol,
			Detail:          fmt.Sprintf("ignored %s -> %s", before.Status, after.Status),
			At:              now,
		}}
	}

	if after.Status != before.Status && !before.Status.CanTransitionTo(after.Status) {
		return Change{Anomaly: &model.Anomaly{
			Kind:            model.AnomalyIllegalTransition,
			StrategyID:      before.StrategyID,
			ClientOrderID:   before.ClientOrderID,
			ExchangeOrderID: before.ExchangeOrderID,
			Symbol:          before.Symbol,
			Detail:          fmt.Sprintf("rejected %s -> %s", before.Status, after.Status),
			At:              now,
		}}
	}

	if before.ExchangeOrderID != "" {
		after.ExchangeOrderID = before.ExchangeOrderID
	}
	// fills never go backwards; an older observation keeps the newer fill
	if after.FilledQuantity.LessThan(before.FilledQuantity) {
		after.FilledQuantity = before.FilledQuantity
		after.AvgFillPrice = before.AvgFillPrice
	}
	if after.FilledQuantity.GreaterThan(after.Quantity) {
		after.FilledQuantity = after.Quantity
	}
	if after.Status == model.OrderStatusFilled {
		after.FilledQuantity = after.Quantity
	}
	after.UpdatedAt = now

	e.order = after
	if after.ExchangeOrderID != "" && before.ExchangeOrderID == "" {
		s.mu.Lock()
		s.byExchangeID[after.ExchangeOrderID] = after.ClientOrderID
		s.mu.Unlock()
	}

	if after.Status == before.Status && after.FilledQuantity.Equal(before.FilledQuantity) {
		return Change{}
	}

	ev := model.NewOrderEvent(before, after, now)
	s.events.AddEvent(ev)
	return Change{Events: []model.OrderEvent{ev}}
}

func (s *Store) collect(ids []string) []model.Order {
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		if o, err := s.Get(id); err == nil {
			out = append(out, o)
		}
	}
	return out
}

// ListByStrategy returns the strategy's orders in submission order.
func (s *Store) ListByStrategy(strategyID string) []model.Order {
	s.mu.RLock()
	ids := append([]string(nil), s.byStrategy[strategyID]...)
	s.mu.RUnlock()
	return s.collect(ids)
}

func (s *Store) entries() []*entry {
	s.mu.RLock()
	list := make([]*entry, 0, len(s.orders))
	for _, e := range s.orders {
		list = append(list, e)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

func (s *Store) List() []model.Order {
	list := s.entries()
	out := make([]model.Order, 0, len(list))
	for _, e := range list {
		e.mu.Lock()
		out = append(out, e.order)
		e.mu.Unlock()
	}
	return out
}

// ListActive returns every non-terminal order in submission order.
func (s *Store) ListActive() []model.Order {
	var out []model.Order
	for _, o := range s.List() {
		if !o.IsEnd() {
			out = append(out, o)
		}
	}
	return out
}

func (s *Store) History(clientOrderID string) []model.OrderEvent {
	return s.events.GetEvents(clientOrderID)
}

// Cleanup evicts terminal orders last updated before cutoff unless keep
// reports they are still needed. It returns the number evicted.
func (s *Store) Cleanup(cutoff time.Time, keep func(model.Order) bool) int {
	var evict []model.Order
	for _, o := range s.List() {
		if !o.IsEnd() || !o.UpdatedAt.Before(cutoff) {
			continue
		}
		if keep != nil && keep(o) {
			continue
		}
		evict = append(evict, o)
	}
	if len(evict) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range evict {
		delete(s.orders, o.ClientOrderID)
		delete(s.byExchangeID, o.ExchangeOrderID)
		if o.StrategyID != "" {
			s.byStrategy[o.StrategyID] = removeID(s.byStrategy[o.StrategyID], o.ClientOrderID)
			if len(s.byStrategy[o.StrategyID]) == 0 {
				delete(s.byStrategy, o.StrategyID)
			}
		}
		s.events.DeleteByOrderID(o.ClientOrderID)
	}
	return len(evict)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

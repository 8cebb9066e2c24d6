package eventstore

import (
	"sync"

	"github.com/joripage/orderexec/pkg/oms/model"
)

type InMemoryEventStore struct {
	mu     sync.RWMutex
	orders map[string][]model.OrderEvent
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		orders: make(map[string][]model.OrderEvent),
	}
}

func (s *InMemoryEventStore) AddEvent(ev model.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[ev.ClientOrderID] = append(s.orders[ev.ClientOrderID], ev)
}

// GetEvents returns a copy of the history, oldest first.
func (s *InMemoryEventStore) GetEvents(clientOrderID string) []model.OrderEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.orders[clientOrderID]
	out := make([]model.OrderEvent, len(events))
	copy(out, events)
	return out
}

func (s *InMemoryEventStore) GetLatestEvent(clientOrderID string) (model.OrderEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.orders[clientOrderID]
	if len(events) == 0 {
		return model.OrderEvent{}, false
	}
	return events[len(events)-1], true
}

func (s *InMemoryEventStore) DeleteByOrderID(clientOrderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.orders, clientOrderID)
}

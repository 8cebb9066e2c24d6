package eventstore

import "github.com/joripage/orderexec/pkg/oms/model"

// EventStore keeps the ordered change history of each order.
type EventStore interface {
	AddEvent(ev model.OrderEvent)
	GetEvents(clientOrderID string) []model.OrderEvent
	GetLatestEvent(clientOrderID string) (model.OrderEvent, bool)
	DeleteByOrderID(clientOrderID string)
}

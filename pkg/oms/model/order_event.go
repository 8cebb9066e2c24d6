package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent is a committed change of one order record.
type OrderEvent struct {
	EventID         string          `json:"event_id" gorm:"primaryKey"`
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	StrategyID      string          `json:"strategy_id"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	From            OrderStatus     `json:"from" gorm:"column:from_status"`
	To              OrderStatus     `json:"to" gorm:"column:to_status"`
	FillDelta       decimal.Decimal `json:"fill_delta"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	Reason          string          `json:"reason"`
	At              time.Time       `json:"at"`
}

func (OrderEvent) TableName() string {
	return "order_events"
}

func NewOrderEvent(before, after Order, at time.Time) OrderEvent {
	return OrderEvent{
		EventID:         NewEventID(after.ClientOrderID, after.Status, after.FilledQuantity),
		ClientOrderID:   after.ClientOrderID,
		ExchangeOrderID: after.ExchangeOrderID,
		StrategyID:      after.StrategyID,
		Symbol:          after.Symbol,
		Side:            after.Side,
		From:            before.Status,
		To:              after.Status,
		FillDelta:       after.FilledQuantity.Sub(before.FilledQuantity),
		FilledQuantity:  after.FilledQuantity,
		AvgFillPrice:    after.AvgFillPrice,
		Reason:          after.Reason,
		At:              at,
	}
}

// NewEventID is deterministic so replayed events deduplicate downstream.
func NewEventID(clientOrderID string, status OrderStatus, filled decimal.Decimal) string {
	return fmt.Sprintf("%s-%s-%s", clientOrderID, status, filled.String())
}

// Package exchange defines the narrow surface the engine needs from a venue.
package exchange

import (
	"context"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"github.com/shopspring/decimal"
)

// Client is implemented by exchange adapters. Errors are classified with the
// sentinels in package model.
type Client interface {
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (model.OrderSnapshot, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOrder(ctx context.Context, symbol, exchangeOrderID string) (model.OrderSnapshot, error)
	GetOrderBook(ctx context.Context, symbol string) (BookTop, error)
	GetSymbolInfo(ctx context.Context, symbol string) (model.SymbolRules, error)
	// SubscribePriceUpdates streams ticks until ctx ends or the venue drops
	// the stream, at which point the channel is closed.
	SubscribePriceUpdates(ctx context.Context, symbol string) (<-chan PriceTick, error)
	OpenOrders(ctx context.Context, symbol string) ([]model.OrderSnapshot, error)
	// Balances lists the account's non-zero asset balances.
	Balances(ctx context.Context) ([]model.Balance, error)
}

type PlaceOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          model.OrderSide
	Type          model.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
}

func NewPlaceOrderRequest(o model.Order) PlaceOrderRequest {
	return PlaceOrderRequest{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Quantity:      o.Quantity,
		Price:         o.Price,
		StopPrice:     o.StopPrice,
	}
}

type BookTop struct {
	Symbol  string          `json:"symbol"`
	BestBid decimal.Decimal `json:"best_bid"`
	BestAsk decimal.Decimal `json:"best_ask"`
	At      time.Time       `json:"at"`
}

func (b BookTop) Mid() decimal.Decimal {
	if b.BestBid.IsZero() {
		return b.BestAsk
	}
	if b.BestAsk.IsZero() {
		return b.BestBid
	}
	return b.BestBid.Add(b.BestAsk).Div(decimal.NewFromInt(2))
}

type PriceTick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

package oms

import (
	"context"

	"github.com/joripage/orderexec/pkg/oms/model"
)

// IOMS is the command surface used by the gateways.
type IOMS interface {
	Submit(ctx context.Context, req Request) (Handle, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	CancelStrategy(ctx context.Context, strategyID string) error
	PauseGrid(ctx context.Context, strategyID string) error
	ResumeGrid(ctx context.Context, strategyID string) error

	GetOrder(clientOrderID string) (model.Order, error)
	ListOrders(symbol string) []model.Order
	OrderHistory(clientOrderID string) []model.OrderEvent
	GetStrategy(strategyID string) (model.StrategyInstance, error)
	ListStrategies() []model.StrategyInstance
	Anomalies() []model.Anomaly
	Balances(ctx context.Context) ([]model.Balance, error)
}

var _ IOMS = (*OMS)(nil)

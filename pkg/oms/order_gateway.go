package oms

import (
	"context"

	"github.com/joripage/orderexec/pkg/oms/model"
)

// OrderGateway is a client-facing surface. The OMS reports every committed
// order event to each registered gateway.
type OrderGateway interface {
	Start(ctx context.Context) error

	// oms to client
	OnOrderReport(ctx context.Context, ev model.OrderEvent)
}

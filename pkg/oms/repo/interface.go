package repo

import (
	"context"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
)

// Writes are idempotent: a record whose id is already stored is skipped,
// so a redelivered journal message is harmless.

type IOrderEvent interface {
	Create(ctx context.Context, record *model.OrderEvent) (*model.OrderEvent, error)
	BulkCreate(ctx context.Context, records []*model.OrderEvent) ([]*model.OrderEvent, error)
	ListByOrder(ctx context.Context, clientOrderID string) ([]*model.OrderEvent, error)
}

type IAnomaly interface {
	Create(ctx context.Context, record *model.Anomaly) (*model.Anomaly, error)
	BulkCreate(ctx context.Context, records []*model.Anomaly) ([]*model.Anomaly, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]*model.Anomaly, error)
}

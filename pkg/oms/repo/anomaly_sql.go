package repo

import (
	"context"
	"time"

	"github.com/joripage/orderexec/pkg/oms/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AnomalySQLRepo struct {
	db *gorm.DB
}

func NewAnomalySQLRepo(db *gorm.DB) *AnomalySQLRepo {
	return &AnomalySQLRepo{
		db: db,
	}
}

func (r *AnomalySQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *AnomalySQLRepo) Create(ctx context.Context, record *model.Anomaly) (*model.Anomaly, error) {
	return record, r.dbWithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
}

func (r *AnomalySQLRepo) BulkCreate(ctx context.Context, records []*model.Anomaly) ([]*model.Anomaly, error) {
	if len(records) == 0 {
		return records, nil
	}
	return records, r.dbWithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records).Error
}

// ListSince returns anomalies recorded at or after since, oldest first.
func (r *AnomalySQLRepo) ListSince(ctx context.Context, since time.Time, limit int) ([]*model.Anomaly, error) {
	var out []*model.Anomaly
	q := r.dbWithContext(ctx).Where("at >= ?", since).Order("at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

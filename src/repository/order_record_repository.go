package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"futuresbot/src/model"
)

// OrderRecordRepository keeps the latest known state of every submitted order.
type OrderRecordRepository struct {
	db *gorm.DB
}

func NewOrderRecordRepository(db *gorm.DB) *OrderRecordRepository {
	return &OrderRecordRepository{db: db}
}

// Save upserts rec keyed by its client order id. Records are never deleted.
func (r *OrderRecordRepository) Save(ctx context.Context, rec *model.OrderRecord) error {
	var err error
	if rec.ID != 0 {
		err = r.db.WithContext(ctx).Save(rec).Error
	} else {
		err = r.upsert(ctx, rec)
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "OrderRecordRepository",
			"op":       "Save",
			"order_id": rec.ExchangeOrderID,
			"status":   rec.Status,
		}).WithError(err).Error("Failed to save order record")
	}
	return err
}

func (r *OrderRecordRepository) upsert(ctx context.Context, rec *model.OrderRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "client_order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"exchange_order_id", "status", "filled_qty", "avg_price", "last_update_at", "updated_at",
			}),
		}).
		Create(rec).Error
}

// FindByRun returns the orders of one run in submission order.
func (r *OrderRecordRepository) FindByRun(ctx context.Context, runID string) ([]model.OrderRecord, error) {
	var recs []model.OrderRecord
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id").
		Find(&recs).Error
	return recs, err
}

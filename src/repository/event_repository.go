package repository

import (
	"context"

	"gorm.io/gorm"

	"futuresbot/src/model"
)

// EventRepository is the append-only store of strategy transitions.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append inserts one event. There is no update or delete.
func (r *EventRepository) Append(ctx context.Context, ev *model.StrategyEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

// ListByRun returns the events of a run in the order they happened.
func (r *EventRepository) ListByRun(ctx context.Context, runID string) ([]model.StrategyEvent, error) {
	var events []model.StrategyEvent
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at, id").
		Find(&events).Error
	return events, err
}

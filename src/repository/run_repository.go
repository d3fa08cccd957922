package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"futuresbot/src/model"
)

// StrategyRunRepository stores one row per strategy invocation.
type StrategyRunRepository struct {
	db *gorm.DB
}

func NewStrategyRunRepository(db *gorm.DB) *StrategyRunRepository {
	return &StrategyRunRepository{db: db}
}

// WithDB returns a copy bound to another session or transaction.
func (r *StrategyRunRepository) WithDB(db *gorm.DB) *StrategyRunRepository {
	return &StrategyRunRepository{db: db}
}

// Create inserts a new run.
func (r *StrategyRunRepository) Create(ctx context.Context, run *model.StrategyRun) error {
	fields := map[string]interface{}{
		"repo":     "StrategyRunRepository",
		"op":       "Create",
		"run_id":   run.RunID,
		"strategy": run.Strategy,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to create strategy run")
		return err
	}
	logger.WithFields(fields).Debug("Strategy run created")
	return nil
}

// UpdateStatus moves a run to a non-terminal status.
func (r *StrategyRunRepository) UpdateStatus(ctx context.Context, runID string, status model.RunStatus) error {
	return r.db.WithContext(ctx).
		Model(&model.StrategyRun{}).
		Where("run_id = ?", runID).
		Update("status", status).Error
}

// Finish stores the terminal status and the summary of a run.
func (r *StrategyRunRepository) Finish(
	ctx context.Context,
	runID string,
	status model.RunStatus,
	summary string,
	errMsg string,
	finishedAt time.Time,
) error {
	res := r.db.WithContext(ctx).
		Model(&model.StrategyRun{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":      status,
			"summary":     summary,
			"error":       errMsg,
			"finished_at": finishedAt,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "StrategyRunRepository",
			"op":     "Finish",
			"run_id": runID,
		}).WithError(res.Error).Error("Failed to finish strategy run")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindByRunID returns (nil, nil) if the run does not exist.
func (r *StrategyRunRepository) FindByRunID(ctx context.Context, runID string) (*model.StrategyRun, error) {
	var run model.StrategyRun
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FailStale marks runs left open by a process that died as FAILED.
func (r *StrategyRunRepository) FailStale(ctx context.Context, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.StrategyRun{}).
		Where("status IN ?", []model.RunStatus{model.RunStatusCreated, model.RunStatusRunning}).
		Updates(map[string]interface{}{
			"status":      model.RunStatusFailed,
			"error":       "interrupted",
			"finished_at": at,
		})
	return res.RowsAffected, res.Error
}

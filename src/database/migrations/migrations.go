package migrations

import (
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DataMigration is one applied entry of the data_migrations ledger.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

// Migration is a change AutoMigrate cannot express. IDs are never reused.
type Migration struct {
	ID string
	Up func(tx *gorm.DB) error
}

// All lists the migrations in the order they are applied. Append only.
var All = []Migration{
	{ID: "00001_strategy_events_run_time_index", Up: indexSQL("idx_strategy_events_run_created", "strategy_events", "run_id, created_at")},
	{ID: "00002_order_records_run_status_index", Up: indexSQL("idx_order_records_run_status", "order_records", "run_id, status")},
}

func indexSQL(name, table, columns string) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		return tx.Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, columns)).Error
	}
}

// Apply runs every migration of list that the ledger does not know yet. Each one commits
// together with its ledger row.
func Apply(db *gorm.DB, list []Migration) error {
	if db == nil {
		return nil
	}
	if err := db.AutoMigrate(&DataMigration{}); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	seen := make(map[string]bool, len(list))
	for _, m := range list {
		if m.ID == "" || m.Up == nil {
			return fmt.Errorf("migration %q is incomplete", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("migration %q is listed twice", m.ID)
		}
		seen[m.ID] = true

		applied, err := apply(db, m)
		if err != nil {
			return err
		}
		if applied {
			logger.WithField("migration", m.ID).Info("[database] data migration applied")
		}
	}
	return nil
}

func apply(db *gorm.DB, m Migration) (bool, error) {
	applied := false
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.First(&DataMigration{}, "id = ?", m.ID).Error
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("check migration %q: %w", m.ID, err)
		}

		if err := m.Up(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", m.ID, err)
		}
		if err := tx.Create(&DataMigration{ID: m.ID, AppliedAt: time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", m.ID, err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// Run applies All.
func Run(db *gorm.DB) error {
	return Apply(db, All)
}

package migrations

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestApplyRunsEachMigrationOnce(t *testing.T) {
	db := openDB(t, "apply_once")
	calls := 0
	list := []Migration{{ID: "0001_count", Up: func(*gorm.DB) error { calls++; return nil }}}

	require.NoError(t, Apply(db, list))
	require.NoError(t, Apply(db, list))
	assert.Equal(t, 1, calls)

	var rows []DataMigration
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "0001_count", rows[0].ID)
}

func TestApplyFailedMigrationIsNotRecorded(t *testing.T) {
	db := openDB(t, "apply_fail")
	list := []Migration{{ID: "0001_broken", Up: func(*gorm.DB) error { return errors.New("boom") }}}

	err := Apply(db, list)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_broken")

	var count int64
	require.NoError(t, db.Model(&DataMigration{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestApplyRejectsBadLists(t *testing.T) {
	db := openDB(t, "apply_bad")
	noop := func(*gorm.DB) error { return nil }

	assert.Error(t, Apply(db, []Migration{{ID: "", Up: noop}}))
	assert.Error(t, Apply(db, []Migration{{ID: "a", Up: noop}, {ID: "a", Up: noop}}))
	assert.NoError(t, Apply(nil, All))
}

package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/attendancebackend/config"
	"github.com/camden-git/attendancebackend/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := InitGormDB(Options{
		Driver:   config.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrateModels(db))
	t.Cleanup(func() { _ = Close(db) })
	return db
}

func seedIdentity(t *testing.T, db *gorm.DB, externalID, name string) *models.Identity {
	t.Helper()
	identity := &models.Identity{ExternalID: externalID, Name: name, Template: []byte{1}}
	require.NoError(t, db.Create(identity).Error)
	return identity
}

func seedEvent(t *testing.T, db *gorm.DB, identityID uint, date, clock, status string) {
	t.Helper()
	require.NoError(t, db.Create(&models.AttendanceEvent{
		IdentityID: identityID,
		Date:       date,
		Time:       clock,
		Status:     status,
	}).Error)
}

func TestGetIdentityAttendanceStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := seedIdentity(t, db, "S-1", "Alice")
	b := seedIdentity(t, db, "S-2", "Bob")

	seedEvent(t, db, a.ID, "2026-10-01", "09:00:00", models.StatusPresent)
	seedEvent(t, db, a.ID, "2026-10-02", "09:40:00", models.StatusLate)
	seedEvent(t, db, a.ID, "2026-10-03", "00:00:00", models.StatusAbsent)
	seedEvent(t, db, b.ID, "2026-10-01", "09:05:00", models.StatusPresent)

	stats, err := GetIdentityAttendanceStats(ctx, db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AttendanceStats{Total: 3, Present: 1, Absent: 1, Late: 1}, stats)

	t.Run("no events", func(t *testing.T) {
		c := seedIdentity(t, db, "S-3", "Carol")
		stats, err := GetIdentityAttendanceStats(ctx, db, c.ID)
		require.NoError(t, err)
		assert.Equal(t, AttendanceStats{}, stats)
	})
}

func TestGetDailyRoster(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := seedIdentity(t, db, "S-1", "Alice")
	b := seedIdentity(t, db, "S-2", "Bob")

	seedEvent(t, db, b.ID, "2026-10-19", "09:20:00", models.StatusPresent)
	seedEvent(t, db, a.ID, "2026-10-19", "08:55:00", models.StatusPresent)
	seedEvent(t, db, a.ID, "2026-10-18", "08:50:00", models.StatusPresent)

	roster, err := GetDailyRoster(ctx, db, "2026-10-19")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "Alice", roster[0].Name)
	assert.Equal(t, "S-1", roster[0].ExternalID)
	assert.Equal(t, "08:55:00", roster[0].Time)
	assert.Equal(t, "Bob", roster[1].Name)

	empty, err := GetDailyRoster(ctx, db, "2026-01-01")
	require.NoError(t, err)
	assert.Empty(t, empty)

	count, err := CountIdentities(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUniqueMarkPerDayConstraint(t *testing.T) {
	db := setupTestDB(t)
	a := seedIdentity(t, db, "S-1", "Alice")
	seedEvent(t, db, a.ID, "2026-10-19", "09:00:00", models.StatusPresent)

	err := db.Create(&models.AttendanceEvent{IdentityID: a.ID, Date: "2026-10-19", Time: "10:00:00", Status: models.StatusPresent}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestInitGormDBRejectsUnknownDriver(t *testing.T) {
	_, err := InitGormDB(Options{Driver: "oracle"})
	assert.Error(t, err)
}

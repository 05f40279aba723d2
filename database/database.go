package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// AttendanceStats aggregates an identity's attendance history by status.
type AttendanceStats struct {
	Total   int64 `json:"total"`
	Present int64 `json:"present"`
	Absent  int64 `json:"absent"`
	Late    int64 `json:"late"`
}

// RosterEntry is one attendance event joined with its identity.
type RosterEntry struct {
	EventID    uint   `json:"event_id"`
	IdentityID uint   `json:"identity_id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Status     string `json:"status"`
	RecordedBy string `json:"recorded_by,omitempty"`
}

func statusSum(status string) string {
	return fmt.Sprintf("COALESCE(SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END), 0) AS %s", status, status)
}

// GetIdentityAttendanceStats counts an identity's events per status.
func GetIdentityAttendanceStats(ctx context.Context, db *gorm.DB, identityID uint) (AttendanceStats, error) {
	queryBuilder := psql.Select(
		"COUNT(*) AS total",
		statusSum("present"),
		statusSum("absent"),
		statusSum("late"),
	).
		From("attendance_events").
		Where(sq.Eq{"identity_id": identityID})

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return AttendanceStats{}, fmt.Errorf("failed to build SQL query for GetIdentityAttendanceStats: %w", err)
	}

	var stats AttendanceStats
	if err := db.WithContext(ctx).Raw(sqlStr, args...).Scan(&stats).Error; err != nil {
		return AttendanceStats{}, fmt.Errorf("failed to query attendance stats for identity %d: %w", identityID, err)
	}
	return stats, nil
}

// GetDailyRoster lists the events recorded on date, earliest first.
func GetDailyRoster(ctx context.Context, db *gorm.DB, date string) ([]RosterEntry, error) {
	queryBuilder := psql.Select(
		"e.id AS event_id",
		"e.identity_id",
		"i.external_id",
		"i.name",
		"e.date",
		"e.time",
		"e.status",
		"e.recorded_by",
	).
		From("attendance_events e").
		Join("identities i ON i.id = e.identity_id").
		Where(sq.Eq{"e.date": date}).
		OrderBy("e.time ASC", "e.id ASC")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for GetDailyRoster: %w", err)
	}

	var entries []RosterEntry
	if err := db.WithContext(ctx).Raw(sqlStr, args...).Scan(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query roster for %s: %w", date, err)
	}
	return entries, nil
}

// CountIdentities returns the number of enrolled identities.
func CountIdentities(ctx context.Context, db *gorm.DB) (int64, error) {
	sqlStr, args, err := psql.Select("COUNT(*)").From("identities").ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL query for CountIdentities: %w", err)
	}

	var count int64
	if err := db.WithContext(ctx).Raw(sqlStr, args...).Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count identities: %w", err)
	}
	return count, nil
}

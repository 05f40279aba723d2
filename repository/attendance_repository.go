package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camden-git/attendancebackend/models"
)

// MarkResult is the ledger's verdict on a mark request.
type MarkResult int

const (
	MarkAccepted MarkResult = iota
	MarkAlreadyMarkedToday
	MarkIdentityUnknown
)

func (m MarkResult) String() string {
	switch m {
	case MarkAccepted:
		return "accepted"
	case MarkAlreadyMarkedToday:
		return "already_marked_today"
	case MarkIdentityUnknown:
		return "identity_unknown"
	default:
		return fmt.Sprintf("MarkResult(%d)", int(m))
	}
}

// AttendanceRepository handles database operations for attendance events
type AttendanceRepository struct {
	DB *gorm.DB
}

// NewAttendanceRepository creates a new instance of AttendanceRepository
func NewAttendanceRepository(db *gorm.DB) *AttendanceRepository {
	return &AttendanceRepository{DB: db}
}

// Mark records identityID as attending on the calendar day of at. The day and
// clock time are taken from at's location. At most one event exists per
// identity and day; a losing concurrent caller gets MarkAlreadyMarkedToday and
// the event that won.
func (r *AttendanceRepository) Mark(ctx context.Context, identityID uint, at time.Time, recordedBy, status string) (MarkResult, *models.AttendanceEvent, error) {
	if status == "" {
		status = models.StatusPresent
	}
	event := &models.AttendanceEvent{
		IdentityID: identityID,
		Date:       at.Format(models.DateLayout),
		Time:       at.Format(models.TimeLayout),
		Status:     status,
		RecordedBy: recordedBy,
		CreatedAt:  time.Now().Unix(),
	}

	result := MarkAccepted
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&models.Identity{}).Where("id = ?", identityID).Count(&exists).Error; err != nil {
			return fmt.Errorf("failed to check identity ID %d: %w", identityID, err)
		}
		if exists == 0 {
			result = MarkIdentityUnknown
			return nil
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(event)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				result = MarkAlreadyMarkedToday
			} else {
				return fmt.Errorf("failed to insert attendance for identity ID %d: %w", identityID, res.Error)
			}
		} else if res.RowsAffected == 0 {
			result = MarkAlreadyMarkedToday
		}

		if result == MarkAlreadyMarkedToday {
			var existing models.AttendanceEvent
			if err := tx.Where("identity_id = ? AND date = ?", identityID, event.Date).First(&existing).Error; err != nil {
				return fmt.Errorf("failed to load existing attendance for identity ID %d: %w", identityID, err)
			}
			event = &existing
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if result == MarkIdentityUnknown {
		return result, nil, nil
	}
	return result, event, nil
}

// GetForIdentityOnDate returns the identity's event on date
func (r *AttendanceRepository) GetForIdentityOnDate(ctx context.Context, identityID uint, date string) (*models.AttendanceEvent, error) {
	var event models.AttendanceEvent
	err := r.DB.WithContext(ctx).Where("identity_id = ? AND date = ?", identityID, date).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get attendance for identity ID %d on %s: %w", identityID, date, err)
	}
	return &event, nil
}

// LatestForIdentity returns the most recent event of an identity
func (r *AttendanceRepository) LatestForIdentity(ctx context.Context, identityID uint) (*models.AttendanceEvent, error) {
	var event models.AttendanceEvent
	err := r.DB.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("date DESC").Order("time DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get latest attendance for identity ID %d: %w", identityID, err)
	}
	return &event, nil
}

// ClearDate deletes every event on date and returns how many were removed
func (r *AttendanceRepository) ClearDate(ctx context.Context, date string) (int64, error) {
	result := r.DB.WithContext(ctx).Where("date = ?", date).Delete(&models.AttendanceEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear attendance for %s: %w", date, result.Error)
	}
	return result.RowsAffected, nil
}

// ClearIdentityOnDate deletes the identity's event on date, if any
func (r *AttendanceRepository) ClearIdentityOnDate(ctx context.Context, identityID uint, date string) (int64, error) {
	result := r.DB.WithContext(ctx).
		Where("identity_id = ? AND date = ?", identityID, date).
		Delete(&models.AttendanceEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear attendance for identity ID %d on %s: %w", identityID, date, result.Error)
	}
	return result.RowsAffected, nil
}

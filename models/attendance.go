package models

// Attendance statuses.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusAbsent  = "absent"
)

// Date and time layouts used by AttendanceEvent.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// AttendanceEvent records one identity being marked on one calendar day.
// It corresponds to the 'attendance_events' table; (identity_id, date) is unique.
type AttendanceEvent struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	IdentityID uint   `gorm:"not null;uniqueIndex:idx_identity_date" json:"identity_id"`
	Date       string `gorm:"size:10;not null;uniqueIndex:idx_identity_date;index" json:"date"`
	Time       string `gorm:"size:8;not null" json:"time"`
	Status     string `gorm:"size:16;not null;default:present" json:"status"`
	RecordedBy string `gorm:"size:255" json:"recorded_by,omitempty"`
	CreatedAt  int64  `gorm:"not null" json:"created_at"`

	Identity *Identity `gorm:"foreignKey:IdentityID" json:"identity,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (AttendanceEvent) TableName() string {
	return "attendance_events"
}

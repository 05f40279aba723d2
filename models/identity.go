package models

// Identity represents an enrolled person together with their canonical face
// template. It corresponds to the 'identities' table.
type Identity struct {
	ID           uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID   string  `gorm:"size:64;not null;uniqueIndex" json:"external_id"`
	Name         string  `gorm:"size:255;not null;index" json:"name"`
	Contact      *string `gorm:"size:255" json:"contact,omitempty"`
	Template     []byte  `gorm:"not null" json:"-"` // PNG, 128x128 8-bit grayscale
	SnapshotPath *string `gorm:"size:512" json:"snapshot_path,omitempty"`
	CreatedAt    int64   `gorm:"not null" json:"created_at"` // Unix timestamp of enrollment
	UpdatedAt    int64   `gorm:"not null" json:"updated_at"`

	Events []AttendanceEvent `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE" json:"events,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Identity) TableName() string {
	return "identities"
}

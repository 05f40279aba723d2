package repository

import (
	"context"
	"time"

	"github.com/camden-git/attendancebackend/models"
)

// TemplateRecord is the minimal projection needed to train the classifier.
type TemplateRecord struct {
	ID       uint
	Template []byte
}

// IdentityRepositoryInterface defines the gallery operations
type IdentityRepositoryInterface interface {
	Create(ctx context.Context, identity *models.Identity) error
	GetByID(ctx context.Context, id uint) (*models.Identity, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Identity, error)
	List(ctx context.Context) ([]models.Identity, error)
	ListTemplates(ctx context.Context) ([]TemplateRecord, error)
	FindByNameFragment(ctx context.Context, fragment string) ([]models.Identity, error)
	Delete(ctx context.Context, id uint) (*models.Identity, error)
	Count(ctx context.Context) (int64, error)
}

// AttendanceRepositoryInterface defines the ledger operations
type AttendanceRepositoryInterface interface {
	Mark(ctx context.Context, identityID uint, at time.Time, recordedBy, status string) (MarkResult, *models.AttendanceEvent, error)
	GetForIdentityOnDate(ctx context.Context, identityID uint, date string) (*models.AttendanceEvent, error)
	LatestForIdentity(ctx context.Context, identityID uint) (*models.AttendanceEvent, error)
	ClearDate(ctx context.Context, date string) (int64, error)
	ClearIdentityOnDate(ctx context.Context, identityID uint, date string) (int64, error)
}

var (
	_ IdentityRepositoryInterface   = (*IdentityRepository)(nil)
	_ AttendanceRepositoryInterface = (*AttendanceRepository)(nil)
)

package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/facette/natsort"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/camden-git/attendancebackend/models"
)

// listColumns excludes the template blob from listings.
var listColumns = []string{"id", "external_id", "name", "contact", "snapshot_path", "created_at", "updated_at"}

// IdentityRepository handles database operations for enrolled identities
type IdentityRepository struct {
	DB    *gorm.DB
	cache *cache.Cache
}

// NewIdentityRepository creates a new instance of IdentityRepository. Lookups
// by id are cached for cacheTTL; zero disables the cache.
func NewIdentityRepository(db *gorm.DB, cacheTTL time.Duration) *IdentityRepository {
	r := &IdentityRepository{DB: db}
	if cacheTTL > 0 {
		r.cache = cache.New(cacheTTL, 2*cacheTTL)
	}
	return r
}

func idKey(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func (r *IdentityRepository) invalidate(id uint) {
	if r.cache != nil {
		r.cache.Delete(idKey(id))
	}
}

// Create inserts a new identity. A taken external id yields gorm.ErrDuplicatedKey.
func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	now := time.Now().Unix()
	if identity.CreatedAt == 0 {
		identity.CreatedAt = now
	}
	if identity.UpdatedAt == 0 {
		identity.UpdatedAt = now
	}

	err := r.DB.WithContext(ctx).Create(identity).Error
	if err != nil {
		return fmt.Errorf("failed to create identity %s: %w", identity.ExternalID, err)
	}
	r.invalidate(identity.ID)
	return nil
}

// GetByID retrieves an identity including its template
func (r *IdentityRepository) GetByID(ctx context.Context, id uint) (*models.Identity, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(idKey(id)); ok {
			cached := *v.(*models.Identity)
			return &cached, nil
		}
	}

	var identity models.Identity
	err := r.DB.WithContext(ctx).First(&identity, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get identity by ID %d: %w", id, err)
	}

	if r.cache != nil {
		stored := identity
		r.cache.SetDefault(idKey(id), &stored)
	}
	return &identity, nil
}

// GetByExternalID retrieves an identity by its unique external identifier
func (r *IdentityRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Identity, error) {
	var identity models.Identity
	err := r.DB.WithContext(ctx).Where("external_id = ?", externalID).First(&identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get identity by external ID %s: %w", externalID, err)
	}
	return &identity, nil
}

// List returns every identity without templates, in natural name order
func (r *IdentityRepository) List(ctx context.Context) ([]models.Identity, error) {
	var identities []models.Identity
	err := r.DB.WithContext(ctx).Select(listColumns).Find(&identities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	sort.SliceStable(identities, func(i, j int) bool {
		a, b := strings.ToLower(identities[i].Name), strings.ToLower(identities[j].Name)
		if a == b {
			return identities[i].ID < identities[j].ID
		}
		return natsort.Compare(a, b)
	})
	return identities, nil
}

// ListTemplates returns id and template of every identity that has one
func (r *IdentityRepository) ListTemplates(ctx context.Context) ([]TemplateRecord, error) {
	var records []TemplateRecord
	err := r.DB.WithContext(ctx).Model(&models.Identity{}).
		Select("id", "template").
		Where("template IS NOT NULL").
		Order("id ASC").
		Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list identity templates: %w", err)
	}
	return records, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)
	return r.Replace(s)
}

// FindByNameFragment returns identities whose name contains fragment, lowest id first
func (r *IdentityRepository) FindByNameFragment(ctx context.Context, fragment string) ([]models.Identity, error) {
	var identities []models.Identity
	pattern := "%" + escapeLike(fragment) + "%"
	err := r.DB.WithContext(ctx).Select(listColumns).
		Where("name LIKE ? ESCAPE '!'", pattern).
		Order("id ASC").
		Find(&identities).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find identities matching '%s': %w", fragment, err)
	}
	return identities, nil
}

// Delete removes an identity and its attendance events in one transaction and
// returns the removed record without its template.
func (r *IdentityRepository) Delete(ctx context.Context, id uint) (*models.Identity, error) {
	var deleted models.Identity
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select(listColumns).First(&deleted, id).Error; err != nil {
			return err
		}
		if err := tx.Where("identity_id = ?", id).Delete(&models.AttendanceEvent{}).Error; err != nil {
			return fmt.Errorf("failed to delete attendance for identity ID %d: %w", id, err)
		}
		result := tx.Delete(&models.Identity{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete identity ID %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	r.invalidate(id)
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// Count returns the number of enrolled identities
func (r *IdentityRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.DB.WithContext(ctx).Model(&models.Identity{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count identities: %w", err)
	}
	return count, nil
}

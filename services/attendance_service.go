package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/attendancebackend/config"
	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
)

// AttendanceService answers roster and statistics queries and performs the
// administrative resets and deletions.
type AttendanceService struct {
	DB              *gorm.DB
	Gallery         repository.IdentityRepositoryInterface
	Ledger          repository.AttendanceRepositoryInterface
	Classifier      *ClassifierService
	Snapshots       *media.Processor // optional
	NameMatchPolicy string           // config.NameMatchFirst or config.NameMatchStrict
	Location        *time.Location
	Now             func() time.Time
	Hub             *realtime.Hub
}

// IdentityReport is an identity with its attendance history summary.
type IdentityReport struct {
	Identity  *models.Identity         `json:"identity"`
	Stats     database.AttendanceStats `json:"stats"`
	LastEvent *models.AttendanceEvent  `json:"last_event,omitempty"`
}

// DailyReport is the roster of one day.
type DailyReport struct {
	Date            string                 `json:"date"`
	TotalIdentities int64                  `json:"total_identities"`
	PresentCount    int                    `json:"present_count"`
	AttendanceRate  float64                `json:"attendance_rate"` // percent, one decimal
	Records         []database.RosterEntry `json:"records"`
}

// ResetResult reports what a reset removed.
type ResetResult struct {
	Date     string           `json:"date"`
	Cleared  int64            `json:"cleared"`
	Identity *models.Identity `json:"identity,omitempty"`
	Message  string           `json:"message"`
}

// Today returns the current calendar day in the configured location.
func (s *AttendanceService) Today() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc).Format(models.DateLayout)
}

// ListIdentities returns every enrolled identity without templates.
func (s *AttendanceService) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	identities, err := s.Gallery.List(ctx)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to list identities")
	}
	return identities, nil
}

// IdentityStats returns an identity with per-status counts and its latest event.
func (s *AttendanceService) IdentityStats(ctx context.Context, id uint) (*IdentityReport, error) {
	identity, err := s.Gallery.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindIdentityUnknown, nil, "identity %d not found", id)
		}
		return nil, newError(KindStorage, err, "failed to load identity %d", id)
	}
	identity.Template = nil

	stats, err := database.GetIdentityAttendanceStats(ctx, s.DB, id)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to load attendance stats")
	}

	report := &IdentityReport{Identity: identity, Stats: stats}
	last, err := s.Ledger.LatestForIdentity(ctx, id)
	switch {
	case err == nil:
		report.LastEvent = last
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, newError(KindStorage, err, "failed to load latest attendance")
	}
	return report, nil
}

// DailyReport returns the roster for date, or today when date is empty.
func (s *AttendanceService) DailyReport(ctx context.Context, date string) (*DailyReport, error) {
	if date == "" {
		date = s.Today()
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, newError(KindInput, err, "date must be formatted YYYY-MM-DD")
	}

	records, err := database.GetDailyRoster(ctx, s.DB, date)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to load roster")
	}
	total, err := database.CountIdentities(ctx, s.DB)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to count identities")
	}

	report := &DailyReport{
		Date:            date,
		TotalIdentities: total,
		PresentCount:    len(records),
		Records:         records,
	}
	if report.Records == nil {
		report.Records = []database.RosterEntry{}
	}
	if total > 0 {
		report.AttendanceRate = math.Round(float64(len(records))/float64(total)*1000) / 10
	}
	return report, nil
}

// ResetAll clears every mark of today.
func (s *AttendanceService) ResetAll(ctx context.Context) (*ResetResult, error) {
	date := s.Today()
	n, err := s.Ledger.ClearDate(ctx, date)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to reset attendance")
	}
	log.Printf("attendance: cleared %d record(s) for %s", n, date)
	s.Hub.Broadcast(realtime.Event{Type: realtime.EventAttendanceReset, Date: date, Extra: map[string]any{"cleared": n}})
	return &ResetResult{
		Date:    date,
		Cleared: n,
		Message: fmt.Sprintf("Cleared %d attendance records for today. You can now mark attendance again.", n),
	}, nil
}

// ResetByName clears today's mark of the identity whose name contains
// fragment. Under the first-match policy the lowest id wins; under the strict
// policy several matches are an error.
func (s *AttendanceService) ResetByName(ctx context.Context, fragment string) (*ResetResult, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, newError(KindInput, nil, "identity name required")
	}
	matches, err := s.Gallery.FindByNameFragment(ctx, fragment)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to look up identity")
	}
	if len(matches) == 0 {
		return nil, newError(KindIdentityUnknown, nil, "identity %q not found", fragment)
	}
	if len(matches) > 1 && s.NameMatchPolicy == config.NameMatchStrict {
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return nil, newError(KindAmbiguousName, nil, "%q matches %d identities: %s", fragment, len(matches), strings.Join(names, ", "))
	}
	return s.resetIdentity(ctx, &matches[0])
}

// ResetByExternalID clears today's mark of the identity with that external id.
func (s *AttendanceService) ResetByExternalID(ctx context.Context, externalID string) (*ResetResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, newError(KindInput, nil, "external id required")
	}
	identity, err := s.Gallery.GetByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindIdentityUnknown, nil, "identity %q not found", externalID)
		}
		return nil, newError(KindStorage, err, "failed to look up identity")
	}
	identity.Template = nil
	return s.resetIdentity(ctx, identity)
}

func (s *AttendanceService) resetIdentity(ctx context.Context, identity *models.Identity) (*ResetResult, error) {
	date := s.Today()
	n, err := s.Ledger.ClearIdentityOnDate(ctx, identity.ID, date)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to reset attendance")
	}

	res := &ResetResult{Date: date, Cleared: n, Identity: identity}
	if n > 0 {
		res.Message = fmt.Sprintf("Cleared attendance for %s today. You can now mark their attendance again.", identity.Name)
		s.Hub.Broadcast(realtime.Event{
			Type:       realtime.EventAttendanceReset,
			IdentityID: identity.ID,
			ExternalID: identity.ExternalID,
			Name:       identity.Name,
			Date:       date,
		})
	} else {
		res.Message = fmt.Sprintf("%s has no attendance record for today to clear.", identity.Name)
	}
	log.Printf("attendance: reset %s (%s) for %s, %d record(s) cleared", identity.Name, identity.ExternalID, date, n)
	return res, nil
}

// DeleteIdentity removes an identity with its attendance history and rebuilds
// the classifier.
func (s *AttendanceService) DeleteIdentity(ctx context.Context, id uint) (*models.Identity, error) {
	deleted, err := s.Gallery.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(KindIdentityUnknown, nil, "identity %d not found", id)
		}
		return nil, newError(KindStorage, err, "failed to delete identity %d", id)
	}

	if s.Snapshots != nil && deleted.SnapshotPath != nil {
		if err := s.Snapshots.DeleteSnapshot(*deleted.SnapshotPath); err != nil {
			log.Printf("attendance: Warning - failed to delete snapshot of identity %d: %v", id, err)
		}
	}
	if s.Classifier != nil {
		if _, err := s.Classifier.Retrain(ctx); err != nil {
			log.Printf("attendance: Warning - classifier rebuild after deleting identity %d failed: %v", id, err)
		}
	}

	s.Hub.Broadcast(realtime.Event{
		Type:       realtime.EventIdentityDeleted,
		IdentityID: deleted.ID,
		ExternalID: deleted.ExternalID,
		Name:       deleted.Name,
	})
	return deleted, nil
}

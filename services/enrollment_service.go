package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/attendancebackend/detection"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/metrics"
	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
)

const (
	maxExternalIDLen = 64
	maxNameLen       = 255
)

// EnrollRequest carries a new identity and its enrollment photo.
type EnrollRequest struct {
	ExternalID string
	Name       string
	Contact    *string
	Photo      []byte
}

// EnrollmentService registers identities from photos.
type EnrollmentService struct {
	Gallery          repository.IdentityRepositoryInterface
	Locator          *detection.Locator
	Preprocessor     Canonicalizer
	Classifier       *ClassifierService
	Snapshots        *media.Processor // optional
	DetectionTimeout time.Duration
	Metrics          *metrics.Metrics
	Hub              *realtime.Hub
}

// Enroll validates the request, extracts the first located face, stores the
// identity and rebuilds the classifier. A failed rebuild is logged and does not
// undo the enrollment.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.Identity, error) {
	identity, err := s.EnrollWithoutRetrain(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.Classifier.Retrain(ctx); err != nil {
		log.Printf("enrollment: Warning - identity %s stored but classifier rebuild failed: %v", identity.ExternalID, err)
	}
	return identity, nil
}

// EnrollWithoutRetrain stores the identity but leaves the classifier alone.
// Bulk imports call Retrain once at the end.
func (s *EnrollmentService) EnrollWithoutRetrain(ctx context.Context, req EnrollRequest) (identity *models.Identity, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("enrollment: recovered panic: %v", r)
			identity, err = nil, newError(KindInternal, nil, "enrollment failed unexpectedly: %v", r)
		}
		s.Metrics.RecordEnrollment(outcomeOf(err, "enrolled"))
	}()

	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Name = strings.TrimSpace(req.Name)
	if err := validateEnrollRequest(req); err != nil {
		return nil, err
	}

	_, err = s.Gallery.GetByExternalID(ctx, req.ExternalID)
	switch {
	case err == nil:
		return nil, newError(KindDuplicateIdentity, nil, "identity %s is already enrolled", req.ExternalID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, newError(KindStorage, err, "failed to check identity %s", req.ExternalID)
	}

	frame, err := media.DecodeImage(req.Photo)
	if err != nil {
		return nil, newError(KindInput, err, "photo could not be decoded")
	}

	rects, err := locate(ctx, s.Locator, frame, s.DetectionTimeout)
	s.Metrics.ObserveCandidates("enrollment", len(rects))
	if err != nil {
		return nil, err
	}
	if len(rects) == 0 {
		return nil, newError(KindNoFaceDetected, nil, "no face detected in the enrollment photo")
	}

	face, err := media.Crop(frame, rects[0])
	if err != nil {
		return nil, newError(KindInput, err, "face region is empty")
	}
	tpl, err := s.Preprocessor.Canonicalize(face)
	if err != nil {
		return nil, newError(KindInput, err, "face region could not be normalized")
	}
	encoded, err := media.EncodeTemplate(tpl)
	if err != nil {
		return nil, newError(KindInternal, err, "template encoding failed")
	}

	identity = &models.Identity{
		ExternalID: req.ExternalID,
		Name:       req.Name,
		Contact:    req.Contact,
		Template:   encoded,
	}
	if s.Snapshots != nil {
		if rel, serr := s.Snapshots.SaveSnapshot(face); serr != nil {
			log.Printf("enrollment: Warning - failed to archive snapshot for %s: %v", req.ExternalID, serr)
		} else {
			identity.SnapshotPath = &rel
		}
	}

	if err := s.Gallery.Create(ctx, identity); err != nil {
		s.discardSnapshot(identity)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, newError(KindDuplicateIdentity, err, "identity %s is already enrolled", req.ExternalID)
		}
		return nil, newError(KindStorage, err, "failed to store identity %s", req.ExternalID)
	}

	log.Printf("enrollment: enrolled %s (%s) as identity %d from %d candidate(s)", identity.Name, identity.ExternalID, identity.ID, len(rects))
	s.Hub.Broadcast(realtime.Event{
		Type:       realtime.EventIdentityEnrolled,
		IdentityID: identity.ID,
		ExternalID: identity.ExternalID,
		Name:       identity.Name,
	})
	return identity, nil
}

func (s *EnrollmentService) discardSnapshot(identity *models.Identity) {
	if s.Snapshots == nil || identity.SnapshotPath == nil {
		return
	}
	if err := s.Snapshots.DeleteSnapshot(*identity.SnapshotPath); err != nil {
		log.Printf("enrollment: Warning - failed to remove orphaned snapshot %s: %v", *identity.SnapshotPath, err)
	}
	identity.SnapshotPath = nil
}

func validateEnrollRequest(req EnrollRequest) error {
	switch {
	case req.ExternalID == "":
		return newError(KindInput, nil, "external id is required")
	case len(req.ExternalID) > maxExternalIDLen:
		return newError(KindInput, nil, "external id exceeds %d characters", maxExternalIDLen)
	case req.Name == "":
		return newError(KindInput, nil, "name is required")
	case len(req.Name) > maxNameLen:
		return newError(KindInput, nil, "name exceeds %d characters", maxNameLen)
	case len(req.Photo) == 0:
		return newError(KindInput, nil, "photo is required")
	}
	return nil
}

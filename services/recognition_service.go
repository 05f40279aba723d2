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

// State is a step of a recognition request. Marked and Rejected are terminal.
type State string

const (
	StateReceived   State = "received"
	StateLocated    State = "located"
	StateCropped    State = "cropped"
	StateClassified State = "classified"
	StateDecided    State = "decided"
	StateMarked     State = "marked"
	StateRejected   State = "rejected"
)

// RecognizeRequest carries one camera frame.
type RecognizeRequest struct {
	ImageData  string // data:image/jpeg;base64,...
	RecordedBy string
}

// RecognitionResult describes how far a request got. On rejection the fields
// filled so far are kept, e.g. the similarity of a low-confidence match.
type RecognitionResult struct {
	State        State                   `json:"state"`
	Candidates   int                     `json:"candidates"`
	Identity     *models.Identity        `json:"identity,omitempty"`
	Similarity   float64                 `json:"similarity"`
	Distance     float64                 `json:"distance"`
	ModelVersion uint64                  `json:"model_version,omitempty"`
	Event        *models.AttendanceEvent `json:"event,omitempty"`
	Message      string                  `json:"message"`
}

// RecognitionService turns a frame into at most one attendance mark.
type RecognitionService struct {
	Gallery          repository.IdentityRepositoryInterface
	Ledger           repository.AttendanceRepositoryInterface
	Locator          *detection.Locator
	Preprocessor     Canonicalizer
	Classifier       *ClassifierService
	Threshold        float64
	DetectionTimeout time.Duration
	LateAfter        string // HH:MM:SS, empty disables late marking
	Location         *time.Location
	Now              func() time.Time
	Metrics          *metrics.Metrics
	Hub              *realtime.Hub
}

func (s *RecognitionService) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// statusFor returns late once the configured cutoff has passed.
func (s *RecognitionService) statusFor(at time.Time) string {
	if s.LateAfter != "" && at.Format(models.TimeLayout) > s.LateAfter {
		return models.StatusLate
	}
	return models.StatusPresent
}

// Recognize runs one frame through locate, crop, classify, decide and mark.
// The first failing step ends the request; nothing is retried.
func (s *RecognitionService) Recognize(ctx context.Context, req RecognizeRequest) (res *RecognitionResult, err error) {
	start := time.Now()
	res = &RecognitionResult{State: StateReceived}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recognition: recovered panic in state %s: %v", res.State, r)
			err = newError(KindInternal, nil, "recognition failed unexpectedly")
		}
		if err != nil {
			res.State = StateRejected
			res.Message = errorMessage(err)
		}
		s.Metrics.RecordRecognition(outcomeOf(err, string(StateMarked)), time.Since(start))
	}()

	if strings.TrimSpace(req.ImageData) == "" {
		return res, newError(KindInput, nil, "no image data provided")
	}
	frame, err := media.DecodeDataURL(req.ImageData)
	if err != nil {
		if errors.Is(err, media.ErrInvalidDataURL) {
			return res, newError(KindInput, err, "invalid image data format, must be base64 encoded JPEG")
		}
		return res, newError(KindInput, err, "failed to process image")
	}

	rects, err := locate(ctx, s.Locator, frame, s.DetectionTimeout)
	s.Metrics.ObserveCandidates("recognition", len(rects))
	if err != nil {
		return res, err
	}
	res.Candidates = len(rects)
	if len(rects) == 0 {
		return res, newError(KindNoFaceDetected, nil, "no face detected in the image")
	}
	res.State = StateLocated

	face, err := media.Crop(frame, rects[0])
	if err != nil {
		return res, newError(KindInput, err, "error processing face image")
	}
	tpl, err := s.Preprocessor.Canonicalize(face)
	if err != nil {
		return res, newError(KindInput, err, "error processing face image")
	}
	res.State = StateCropped

	match, err := s.Classifier.Predict(ctx, tpl)
	if err != nil {
		return res, err
	}
	res.State = StateClassified
	res.Similarity = match.Similarity
	res.Distance = match.Distance
	res.ModelVersion = match.ModelVersion

	if match.Similarity <= s.Threshold {
		enrolled := 0
		if h := s.Classifier.Current(); h != nil {
			enrolled = h.Samples
		}
		return res, newError(KindLowConfidence, nil,
			"face not recognized, confidence too low: %.2f. Total enrolled identities: %d", match.Similarity, enrolled)
	}
	res.State = StateDecided

	identity, err := s.Gallery.GetByID(ctx, match.Label)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return res, newError(KindIdentityUnknown, nil, "matched identity %d no longer exists", match.Label)
		}
		return res, newError(KindStorage, err, "failed to load identity %d", match.Label)
	}
	identity.Template = nil
	res.Identity = identity

	at := s.now()
	outcome, event, err := s.Ledger.Mark(ctx, identity.ID, at, req.RecordedBy, s.statusFor(at))
	if err != nil {
		return res, newError(KindStorage, err, "failed to record attendance")
	}
	switch outcome {
	case repository.MarkIdentityUnknown:
		return res, newError(KindIdentityUnknown, nil, "matched identity %d no longer exists", identity.ID)
	case repository.MarkAlreadyMarkedToday:
		res.Event = event
		return res, newError(KindAlreadyMarkedToday, nil, "%s already marked present today", identity.Name)
	}

	res.State = StateMarked
	res.Event = event
	res.Message = "Attendance marked for " + identity.Name + " (" + identity.ExternalID + ")"
	log.Printf("recognition: marked %s (%s) %s at %s %s, similarity %.2f, model v%d",
		identity.Name, identity.ExternalID, event.Status, event.Date, event.Time, match.Similarity, match.ModelVersion)
	s.Hub.Broadcast(realtime.Event{
		Type:       realtime.EventAttendanceMarked,
		IdentityID: identity.ID,
		ExternalID: identity.ExternalID,
		Name:       identity.Name,
		Date:       event.Date,
		Status:     event.Status,
		Extra:      map[string]any{"time": event.Time, "similarity": match.Similarity},
	})
	return res, nil
}

// errorMessage returns the client-facing message of a service error.
func errorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

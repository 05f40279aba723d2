package services

import (
	"context"
	"errors"
	"image"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camden-git/attendancebackend/lbph"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/metrics"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
)

const (
	// selfCheckLimit bounds the post-training sanity pass, which is quadratic.
	selfCheckLimit = 300

	maxPredictAttempts = 3
)

// ModelHandle is an immutable published classifier. Model is nil when the
// last rebuild found no usable templates.
type ModelHandle struct {
	Version   uint64
	Model     *lbph.Model
	TrainedAt time.Time
	Samples   int
	Skipped   int
}

// Ready reports whether the handle can classify.
func (h *ModelHandle) Ready() bool {
	return h != nil && h.Model != nil && h.Model.Len() > 0
}

// Match is a classification of one template against the published model.
type Match struct {
	Label        uint
	Distance     float64
	Similarity   float64
	ModelVersion uint64
}

// Similarity maps an LBPH distance onto 0..1, higher meaning closer.
func Similarity(distance float64) float64 {
	return 1 - math.Min(distance/100, 1)
}

// ClassifierService owns the published classifier. Rebuilds are serialized and
// replace the handle atomically; readers never see a partial model.
type ClassifierService struct {
	gallery repository.IdentityRepositoryInterface
	params  lbph.Params
	timeout time.Duration
	metrics *metrics.Metrics
	hub     *realtime.Hub

	current     atomic.Pointer[ModelHandle]
	trainMu     sync.Mutex
	lastVersion uint64 // guarded by trainMu
}

func NewClassifierService(gallery repository.IdentityRepositoryInterface, params lbph.Params, timeout time.Duration, m *metrics.Metrics, hub *realtime.Hub) *ClassifierService {
	return &ClassifierService{
		gallery: gallery,
		params:  params,
		timeout: timeout,
		metrics: m,
		hub:     hub,
	}
}

// Current returns the published handle, or nil if no rebuild has completed.
func (s *ClassifierService) Current() *ModelHandle {
	return s.current.Load()
}

// Retrain rebuilds the classifier from every stored template and publishes it.
// On failure the previously published handle stays in place.
func (s *ClassifierService) Retrain(ctx context.Context) (*ModelHandle, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	return s.retrainLocked(ctx)
}

// EnsureReady returns a ready handle, training first if none is published.
func (s *ClassifierService) EnsureReady(ctx context.Context) (*ModelHandle, error) {
	if h := s.current.Load(); h.Ready() {
		return h, nil
	}

	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	if h := s.current.Load(); h.Ready() {
		return h, nil
	}

	h, err := s.retrainLocked(ctx)
	if err != nil {
		return nil, newError(KindClassifierNotReady, err, "classifier training failed")
	}
	if !h.Ready() {
		return nil, newError(KindClassifierNotReady, nil, "no enrolled identities to recognize")
	}
	return h, nil
}

// Predict classifies a canonical template. A handle replaced while the call
// was starting is closed, in which case the newly published one is used.
func (s *ClassifierService) Predict(ctx context.Context, tpl *image.Gray) (*Match, error) {
	for attempt := 0; ; attempt++ {
		h, err := s.EnsureReady(ctx)
		if err != nil {
			return nil, err
		}
		pred, err := h.Model.Predict(tpl)
		if errors.Is(err, lbph.ErrModelClosed) && attempt < maxPredictAttempts-1 {
			continue
		}
		if err != nil {
			return nil, newError(KindInternal, err, "classification failed")
		}
		return &Match{
			Label:        pred.Label,
			Distance:     pred.Distance,
			Similarity:   Similarity(pred.Distance),
			ModelVersion: h.Version,
		}, nil
	}
}

// Close releases the published model. Later calls retrain on demand.
func (s *ClassifierService) Close() {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	if prev := s.current.Swap(nil); prev != nil {
		prev.Model.Close()
	}
}

func (s *ClassifierService) retrainLocked(ctx context.Context) (handle *ModelHandle, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			s.metrics.RecordTraining(time.Since(start), 0, 0, err)
			log.Printf("classifier: Warning - rebuild failed, keeping version %d: %v", s.publishedVersion(), err)
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	records, err := s.gallery.ListTemplates(ctx)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to load templates")
	}

	samples := make([]lbph.Sample, 0, len(records))
	skipped := 0
	for _, rec := range records {
		tpl, err := media.DecodeTemplate(rec.Template)
		if err != nil {
			skipped++
			log.Printf("classifier: Warning - skipping template of identity %d: %v", rec.ID, err)
			continue
		}
		samples = append(samples, lbph.Sample{Label: rec.ID, Image: tpl})
	}

	var model *lbph.Model
	if len(samples) > 0 {
		model, err = lbph.Train(ctx, samples, s.params)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, newError(KindInternal, err, "training timed out after %s", s.timeout)
			}
			return nil, newError(KindInternal, err, "training failed")
		}
		s.selfCheck(model, samples)
	}

	s.lastVersion++
	handle = &ModelHandle{
		Version:   s.lastVersion,
		Model:     model,
		TrainedAt: time.Now(),
		Samples:   len(samples),
		Skipped:   skipped,
	}
	if prev := s.current.Swap(handle); prev != nil {
		// waits for predictions still running on the old recognizer
		prev.Model.Close()
	}

	s.metrics.RecordTraining(time.Since(start), handle.Samples, handle.Version, nil)
	s.hub.Broadcast(realtime.Event{
		Type:  realtime.EventClassifierTrained,
		Extra: map[string]any{"version": handle.Version, "samples": handle.Samples, "skipped": skipped},
	})
	log.Printf("classifier: published version %d with %d template(s), %d skipped, in %s",
		handle.Version, handle.Samples, skipped, time.Since(start).Round(time.Millisecond))
	return handle, nil
}

// selfCheck predicts every training sample back and logs mismatches.
func (s *ClassifierService) selfCheck(model *lbph.Model, samples []lbph.Sample) {
	if len(samples) > selfCheckLimit {
		return
	}
	mismatches := 0
	for _, sample := range samples {
		pred, err := model.Predict(sample.Image)
		if err != nil || pred.Label != sample.Label {
			mismatches++
		}
	}
	if mismatches > 0 {
		log.Printf("classifier: Warning - %d of %d training templates do not classify as themselves", mismatches, len(samples))
	}
}

func (s *ClassifierService) publishedVersion() uint64 {
	if h := s.current.Load(); h != nil {
		return h.Version
	}
	return 0
}

// ClassifierStatus summarizes the published classifier for operators.
type ClassifierStatus struct {
	Ready     bool       `json:"ready"`
	Version   uint64     `json:"version"`
	Samples   int        `json:"samples"`
	Skipped   int        `json:"skipped"`
	TrainedAt *time.Time `json:"trained_at,omitempty"`
}

// Status reports on the published handle.
func (s *ClassifierService) Status() ClassifierStatus {
	h := s.current.Load()
	if h == nil {
		return ClassifierStatus{}
	}
	trainedAt := h.TrainedAt
	return ClassifierStatus{
		Ready:     h.Ready(),
		Version:   h.Version,
		Samples:   h.Samples,
		Skipped:   h.Skipped,
		TrainedAt: &trainedAt,
	}
}

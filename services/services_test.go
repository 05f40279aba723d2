package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/attendancebackend/config"
	"github.com/camden-git/attendancebackend/lbph"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/repository"
)

func TestEnroll(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)

	photo := facePhoto(t, "vertical", 1)
	identity, err := st.enrollment.Enroll(ctx, EnrollRequest{ExternalID: " S-100 ", Name: "  Ana Lopez ", Photo: photo})
	require.NoError(t, err)
	assert.Equal(t, "S-100", identity.ExternalID)
	assert.Equal(t, "Ana Lopez", identity.Name)
	assert.NotEmpty(t, identity.Template)

	h := st.classifier.Current()
	require.NotNil(t, h)
	assert.True(t, h.Ready())
	assert.Equal(t, 1, h.Samples)
	assert.EqualValues(t, 1, h.Version)

	t.Run("duplicate external id", func(t *testing.T) {
		_, err := st.enrollment.Enroll(ctx, EnrollRequest{ExternalID: "S-100", Name: "Someone", Photo: photo})
		assert.ErrorIs(t, err, ErrDuplicateIdentity)
		assert.EqualValues(t, 1, st.classifier.Current().Version)
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name string
			req  EnrollRequest
		}{
			{"missing external id", EnrollRequest{Name: "A", Photo: photo}},
			{"missing name", EnrollRequest{ExternalID: "S-1", Name: "   ", Photo: photo}},
			{"missing photo", EnrollRequest{ExternalID: "S-1", Name: "A"}},
			{"external id too long", EnrollRequest{ExternalID: string(make([]byte, 65)), Name: "A", Photo: photo}},
			{"undecodable photo", EnrollRequest{ExternalID: "S-1", Name: "A", Photo: []byte("not an image")}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := st.enrollment.Enroll(ctx, tt.req)
				assert.ErrorIs(t, err, ErrInput)
			})
		}
	})

	t.Run("no face", func(t *testing.T) {
		st.detector.set()
		defer st.detector.set(faceRect)
		_, err := st.enrollment.Enroll(ctx, EnrollRequest{ExternalID: "S-200", Name: "Ben", Photo: facePhoto(t, "horizontal", 2)})
		assert.ErrorIs(t, err, ErrNoFaceDetected)
		_, err = st.identities.GetByExternalID(ctx, "S-200")
		assert.Error(t, err)
	})

	t.Run("first candidate is used", func(t *testing.T) {
		st.detector.set(faceRect, image.Rect(0, 0, 40, 40))
		defer st.detector.set(faceRect)
		_, err := st.enrollment.Enroll(ctx, EnrollRequest{ExternalID: "S-300", Name: "Cleo", Photo: facePhoto(t, "diagonal", 3)})
		require.NoError(t, err)
	})
}

func TestRecognizeMarksBestMatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)

	photoA := st.enroll(t, "S-A", "Alice", "vertical")
	st.enroll(t, "S-B", "Bob", "horizontal")

	res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photoA), RecordedBy: "kiosk-1"})
	require.NoError(t, err)
	assert.Equal(t, StateMarked, res.State)
	require.NotNil(t, res.Identity)
	assert.Equal(t, "S-A", res.Identity.ExternalID)
	assert.Nil(t, res.Identity.Template)
	assert.InDelta(t, 1.0, res.Similarity, 1e-9)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, "Attendance marked for Alice (S-A)", res.Message)
	require.NotNil(t, res.Event)
	assert.Equal(t, "2026-10-19", res.Event.Date)
	assert.Equal(t, "09:15:00", res.Event.Time)
	assert.Equal(t, models.StatusPresent, res.Event.Status)
	assert.Equal(t, "kiosk-1", res.Event.RecordedBy)

	t.Run("second recognition the same day", func(t *testing.T) {
		st.clock = st.clock.Add(2 * time.Hour)
		res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photoA)})
		assert.ErrorIs(t, err, ErrAlreadyMarkedToday)
		assert.Equal(t, StateRejected, res.State)
		assert.Equal(t, "Alice already marked present today", res.Message)
		require.NotNil(t, res.Event)
		assert.Equal(t, "09:15:00", res.Event.Time)
		assert.EqualValues(t, 1, st.countEvents(t))
	})

	t.Run("next day", func(t *testing.T) {
		st.clock = st.clock.Add(24 * time.Hour)
		res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photoA)})
		require.NoError(t, err)
		assert.Equal(t, "2026-10-20", res.Event.Date)
		assert.EqualValues(t, 2, st.countEvents(t))
	})
}

func TestRecognizeNoisyPhotoOfEnrolledIdentity(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	st.enroll(t, "S-A", "Alice", "vertical")
	st.enroll(t, "S-B", "Bob", "horizontal")

	// same stripes as Alice's enrollment photo, different sensor noise
	query := facePhoto(t, "vertical", 99)
	res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(query)})
	require.NoError(t, err)
	require.NotNil(t, res.Identity)
	assert.Equal(t, "S-A", res.Identity.ExternalID)
	assert.Greater(t, res.Similarity, st.recognition.Threshold)
	assert.Less(t, res.Similarity, 1.0)
	assert.Greater(t, res.Distance, 0.0)

	// the same photo scored against Bob alone is further away
	bob, err := st.identities.GetByExternalID(ctx, "S-B")
	require.NoError(t, err)
	bobTpl, err := media.DecodeTemplate(bob.Template)
	require.NoError(t, err)
	bobOnly, err := lbph.Train(ctx, []lbph.Sample{{Label: bob.ID, Image: bobTpl}}, lbph.DefaultParams)
	require.NoError(t, err)
	defer bobOnly.Close()
	pred, err := bobOnly.Predict(st.template(t, query))
	require.NoError(t, err)
	assert.Greater(t, pred.Distance, res.Distance)
}

func TestRecognizeRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid input", func(t *testing.T) {
		st := newTestStack(t)
		for _, data := range []string{"", "   ", "not a data url", "data:image/jpeg;base64,@@@"} {
			res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: data})
			assert.ErrorIs(t, err, ErrInput, data)
			assert.Equal(t, StateRejected, res.State)
		}
		assert.Zero(t, st.detector.calls)
	})

	t.Run("no enrolled identities", func(t *testing.T) {
		st := newTestStack(t)
		res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(facePhoto(t, "vertical", 1))})
		assert.ErrorIs(t, err, ErrClassifierNotReady)
		assert.Equal(t, StateRejected, res.State)
		assert.True(t, KindOf(err).Transient())
	})

	t.Run("no face", func(t *testing.T) {
		st := newTestStack(t)
		photo := st.enroll(t, "S-A", "Alice", "vertical")
		st.detector.set()
		res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photo)})
		assert.ErrorIs(t, err, ErrNoFaceDetected)
		assert.Zero(t, res.Candidates)
		assert.Zero(t, st.countEvents(t))
	})

	t.Run("low confidence", func(t *testing.T) {
		st := newTestStack(t)
		st.enroll(t, "S-A", "Alice", "vertical")
		st.recognition.Threshold = 0.999
		res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(facePhoto(t, "diagonal", 9))})
		assert.ErrorIs(t, err, ErrLowConfidence)
		assert.Less(t, res.Similarity, 0.999)
		assert.Contains(t, res.Message, "Total enrolled identities: 1")
		assert.Nil(t, res.Identity)
		assert.Zero(t, st.countEvents(t))
	})

	t.Run("detector failure", func(t *testing.T) {
		st := newTestStack(t)
		photo := st.enroll(t, "S-A", "Alice", "vertical")
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := st.recognition.Recognize(canceled, RecognizeRequest{ImageData: dataURL(photo)})
		assert.ErrorIs(t, err, ErrInternal)
	})
}

func TestRecognizeTrainsLazily(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)

	photo := facePhoto(t, "vertical", 4)
	_, err := st.enrollment.EnrollWithoutRetrain(ctx, EnrollRequest{ExternalID: "S-A", Name: "Alice", Photo: photo})
	require.NoError(t, err)
	assert.Nil(t, st.classifier.Current())

	res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photo)})
	require.NoError(t, err)
	assert.Equal(t, StateMarked, res.State)
	assert.EqualValues(t, 1, res.ModelVersion)
}

func TestRecognizeLateStatus(t *testing.T) {
	st := newTestStack(t)
	photo := st.enroll(t, "S-A", "Alice", "vertical")
	st.recognition.LateAfter = "09:00:00"

	res, err := st.recognition.Recognize(context.Background(), RecognizeRequest{ImageData: dataURL(photo)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusLate, res.Event.Status)
}

func TestConcurrentRecognitionMarksOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	photo := st.enroll(t, "S-A", "Alice", "vertical")
	data := dataURL(photo)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		marked  int
		already int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: data})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				marked++
			case errors.Is(err, ErrAlreadyMarkedToday):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, marked)
	assert.Equal(t, workers-1, already)
	assert.EqualValues(t, 1, st.countEvents(t))
}

// flakyGallery fails ListTemplates on demand.
type flakyGallery struct {
	repository.IdentityRepositoryInterface
	fail bool
}

func (g *flakyGallery) ListTemplates(ctx context.Context) ([]repository.TemplateRecord, error) {
	if g.fail {
		return nil, errors.New("database is locked")
	}
	return g.IdentityRepositoryInterface.ListTemplates(ctx)
}

func TestClassifierKeepsPublishedModelOnFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	st.enroll(t, "S-A", "Alice", "vertical")

	gallery := &flakyGallery{IdentityRepositoryInterface: st.identities}
	classifier := NewClassifierService(gallery, st.classifier.params, time.Minute, nil, nil)
	first, err := classifier.Retrain(ctx)
	require.NoError(t, err)

	gallery.fail = true
	_, err = classifier.Retrain(ctx)
	assert.ErrorIs(t, err, ErrStorage)
	assert.Same(t, first, classifier.Current())

	gallery.fail = false
	second, err := classifier.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Version+1, second.Version)
}

func TestClassifierRetrainWhilePredicting(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	photo := st.enroll(t, "S-A", "Alice", "vertical")
	st.enroll(t, "S-B", "Bob", "horizontal")
	tpl := st.template(t, photo)
	first := st.classifier.Current()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				match, err := st.classifier.Predict(ctx, tpl)
				if err != nil {
					errs <- err
					return
				}
				if match.Similarity < 0.99 {
					errs <- fmt.Errorf("similarity %.4f from version %d", match.Similarity, match.ModelVersion)
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		_, err := st.classifier.Retrain(ctx)
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	_, err := first.Model.Predict(tpl)
	assert.ErrorIs(t, err, lbph.ErrModelClosed)
	assert.EqualValues(t, first.Version+5, st.classifier.Current().Version)

	st.classifier.Close()
	assert.Nil(t, st.classifier.Current())
	match, err := st.classifier.Predict(ctx, tpl)
	require.NoError(t, err)
	assert.EqualValues(t, first.Version+6, match.ModelVersion)
}

func TestClassifierSkipsCorruptTemplates(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	st.enroll(t, "S-A", "Alice", "vertical")
	require.NoError(t, st.db.Create(&models.Identity{ExternalID: "S-X", Name: "Broken", Template: []byte("junk")}).Error)

	h, err := st.classifier.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, h.Samples)
	assert.Equal(t, 1, h.Skipped)

	status := st.classifier.Status()
	assert.True(t, status.Ready)
	assert.Equal(t, 1, status.Skipped)
	assert.NotNil(t, status.TrainedAt)
}

func TestClassifierEmptyGallery(t *testing.T) {
	st := newTestStack(t)
	h, err := st.classifier.Retrain(context.Background())
	require.NoError(t, err)
	assert.False(t, h.Ready())
	assert.False(t, st.classifier.Status().Ready)

	_, err = st.classifier.EnsureReady(context.Background())
	assert.ErrorIs(t, err, ErrClassifierNotReady)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity(0), 1e-9)
	assert.InDelta(t, 0.64, Similarity(36), 1e-9)
	assert.InDelta(t, 0.0, Similarity(100), 1e-9)
	assert.InDelta(t, 0.0, Similarity(250), 1e-9)
}

func TestDailyReportAndStats(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	photoA := st.enroll(t, "S-A", "Alice", "vertical")
	st.enroll(t, "S-B", "Bob", "horizontal")
	st.enroll(t, "S-C", "Cleo", "diagonal")

	res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photoA)})
	require.NoError(t, err)

	report, err := st.attendance.DailyReport(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", report.Date)
	assert.EqualValues(t, 3, report.TotalIdentities)
	assert.Equal(t, 1, report.PresentCount)
	assert.InDelta(t, 33.3, report.AttendanceRate, 1e-9)
	require.Len(t, report.Records, 1)
	assert.Equal(t, "Alice", report.Records[0].Name)

	other, err := st.attendance.DailyReport(ctx, "2026-10-18")
	require.NoError(t, err)
	assert.Empty(t, other.Records)
	assert.NotNil(t, other.Records)

	_, err = st.attendance.DailyReport(ctx, "19/10/2026")
	assert.ErrorIs(t, err, ErrInput)

	stats, err := st.attendance.IdentityStats(ctx, res.Identity.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Stats.Total)
	assert.EqualValues(t, 1, stats.Stats.Present)
	require.NotNil(t, stats.LastEvent)
	assert.Equal(t, res.Event.ID, stats.LastEvent.ID)
	assert.Nil(t, stats.Identity.Template)

	_, err = st.attendance.IdentityStats(ctx, 9999)
	assert.ErrorIs(t, err, ErrIdentityUnknown)
}

func TestResetAllOnlyClearsToday(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	photoA := st.enroll(t, "S-A", "Alice", "vertical")
	st.enroll(t, "S-B", "Bob", "horizontal")

	_, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photoA)})
	require.NoError(t, err)
	bob, err := st.identities.GetByExternalID(ctx, "S-B")
	require.NoError(t, err)
	outcome, _, err := st.ledger.Mark(ctx, bob.ID, st.clock.Add(-24*time.Hour), "", models.StatusPresent)
	require.NoError(t, err)
	require.Equal(t, repository.MarkAccepted, outcome)

	res, err := st.attendance.ResetAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Cleared)
	assert.Equal(t, "Cleared 1 attendance records for today. You can now mark attendance again.", res.Message)
	assert.EqualValues(t, 1, st.countEvents(t))

	again, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photoA)})
	require.NoError(t, err)
	assert.Equal(t, StateMarked, again.State)
}

func TestResetByName(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	photo := st.enroll(t, "S-1", "Ana Lopez", "vertical")
	st.enroll(t, "S-2", "Ana Maria", "horizontal")

	_, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photo)})
	require.NoError(t, err)

	t.Run("strict policy rejects ambiguous fragment", func(t *testing.T) {
		st.attendance.NameMatchPolicy = config.NameMatchStrict
		defer func() { st.attendance.NameMatchPolicy = config.NameMatchFirst }()
		_, err := st.attendance.ResetByName(ctx, "ana")
		assert.ErrorIs(t, err, ErrAmbiguousName)
		assert.EqualValues(t, 1, st.countEvents(t))
	})

	t.Run("first match wins", func(t *testing.T) {
		res, err := st.attendance.ResetByName(ctx, "Ana")
		require.NoError(t, err)
		assert.Equal(t, "S-1", res.Identity.ExternalID)
		assert.EqualValues(t, 1, res.Cleared)
		assert.Equal(t, "Cleared attendance for Ana Lopez today. You can now mark their attendance again.", res.Message)
	})

	t.Run("nothing to clear", func(t *testing.T) {
		res, err := st.attendance.ResetByName(ctx, "Maria")
		require.NoError(t, err)
		assert.Zero(t, res.Cleared)
		assert.Equal(t, "Ana Maria has no attendance record for today to clear.", res.Message)
	})

	t.Run("unknown and empty", func(t *testing.T) {
		_, err := st.attendance.ResetByName(ctx, "Zed")
		assert.ErrorIs(t, err, ErrIdentityUnknown)
		_, err = st.attendance.ResetByName(ctx, " ")
		assert.ErrorIs(t, err, ErrInput)
	})
}

func TestResetByExternalID(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	photo := st.enroll(t, "S-1", "Ana Lopez", "vertical")
	_, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photo)})
	require.NoError(t, err)

	res, err := st.attendance.ResetByExternalID(ctx, "S-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Cleared)
	assert.Zero(t, st.countEvents(t))

	_, err = st.attendance.ResetByExternalID(ctx, "S-404")
	assert.ErrorIs(t, err, ErrIdentityUnknown)
}

func TestDeleteIdentity(t *testing.T) {
	ctx := context.Background()
	st := newTestStack(t)
	photoA := st.enroll(t, "S-A", "Alice", "vertical")
	st.enroll(t, "S-B", "Bob", "horizontal")
	res, err := st.recognition.Recognize(ctx, RecognizeRequest{ImageData: dataURL(photoA)})
	require.NoError(t, err)
	before := st.classifier.Current().Version

	deleted, err := st.attendance.DeleteIdentity(ctx, res.Identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "S-A", deleted.ExternalID)
	assert.Zero(t, st.countEvents(t))

	h := st.classifier.Current()
	assert.Equal(t, before+1, h.Version)
	assert.Equal(t, 1, h.Samples)

	_, err = st.attendance.DeleteIdentity(ctx, res.Identity.ID)
	assert.ErrorIs(t, err, ErrIdentityUnknown)

	list, err := st.attendance.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Bob", list[0].Name)
}

package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/attendancebackend/config"
	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/detection"
	"github.com/camden-git/attendancebackend/lbph"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/repository"
	"github.com/camden-git/attendancebackend/vision"
)

// faceRect is where the fake detector reports a face in every test photo.
var faceRect = image.Rect(20, 20, 180, 180)

// fakeDetector reports the same rectangles for every frame.
type fakeDetector struct {
	mu    sync.Mutex
	rects []image.Rectangle
	calls int
}

func (d *fakeDetector) Name() string { return "fake" }

func (d *fakeDetector) Detect(ctx context.Context, _ image.Image, _ detection.ScanParams) ([]image.Rectangle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return append([]image.Rectangle(nil), d.rects...), ctx.Err()
}

func (d *fakeDetector) set(rects ...image.Rectangle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rects = rects
}

// testStack wires the services over a temporary sqlite database.
type testStack struct {
	db           *gorm.DB
	identities   *repository.IdentityRepository
	ledger       *repository.AttendanceRepository
	detector     *fakeDetector
	preprocessor *vision.Preprocessor
	classifier   *ClassifierService
	enrollment   *EnrollmentService
	recognition  *RecognitionService
	attendance   *AttendanceService
	clock        time.Time
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db, err := database.InitGormDB(database.Options{
		Driver:   config.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "services.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))
	t.Cleanup(func() { _ = database.Close(db) })

	st := &testStack{
		db:         db,
		identities: repository.NewIdentityRepository(db, time.Minute),
		ledger:     repository.NewAttendanceRepository(db),
		detector:   &fakeDetector{rects: []image.Rectangle{faceRect}},
		clock:      time.Date(2026, 10, 19, 9, 15, 0, 0, time.UTC),
	}
	now := func() time.Time { return st.clock }

	st.classifier = NewClassifierService(st.identities, lbph.DefaultParams, time.Minute, nil, nil)
	t.Cleanup(st.classifier.Close)
	st.preprocessor = vision.NewPreprocessor()
	st.enrollment = &EnrollmentService{
		Gallery:          st.identities,
		Locator:          detection.NewEnrollmentLocator(st.detector, nil, detection.AnyOverlap),
		Preprocessor:     st.preprocessor,
		Classifier:       st.classifier,
		DetectionTimeout: 5 * time.Second,
	}
	st.recognition = &RecognitionService{
		Gallery:          st.identities,
		Ledger:           st.ledger,
		Locator:          detection.NewRecognitionLocator(st.detector, nil, detection.HalfOfSmaller),
		Preprocessor:     st.preprocessor,
		Classifier:       st.classifier,
		Threshold:        0.1,
		DetectionTimeout: 5 * time.Second,
		Location:         time.UTC,
		Now:              now,
	}
	st.attendance = &AttendanceService{
		DB:              db,
		Gallery:         st.identities,
		Ledger:          st.ledger,
		Classifier:      st.classifier,
		NameMatchPolicy: config.NameMatchFirst,
		Location:        time.UTC,
		Now:             now,
	}
	return st
}

// facePhoto renders a 200x200 JPEG whose face region carries a distinct
// high-contrast pattern plus mild seeded noise.
func facePhoto(t *testing.T, kind string, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			var on bool
			switch kind {
			case "vertical":
				on = (x/10)%2 == 0
			case "horizontal":
				on = (y/10)%2 == 0
			case "diagonal":
				on = ((x+y)/14)%2 == 0
			default:
				on = (x/12+y/12)%2 == 0
			}
			v := 40 + rng.Intn(20)
			if on {
				v = 200 + rng.Intn(20)
			}
			img.Set(x, y, color.RGBA{uint8(v), uint8(v), uint8(v), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func dataURL(photo []byte) string {
	return media.JPEGDataURLPrefix + base64.StdEncoding.EncodeToString(photo)
}

func (st *testStack) enroll(t *testing.T, externalID, name, kind string) []byte {
	t.Helper()
	photo := facePhoto(t, kind, int64(len(externalID)+len(name)))
	_, err := st.enrollment.Enroll(context.Background(), EnrollRequest{ExternalID: externalID, Name: name, Photo: photo})
	require.NoError(t, err)
	return photo
}

// template runs photo through the same crop and canonicalization as the services.
func (st *testStack) template(t *testing.T, photo []byte) *image.Gray {
	t.Helper()
	frame, err := media.DecodeImage(photo)
	require.NoError(t, err)
	face, err := media.Crop(frame, faceRect)
	require.NoError(t, err)
	tpl, err := st.preprocessor.Canonicalize(face)
	require.NoError(t, err)
	return tpl
}

func (st *testStack) countEvents(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, st.db.Table("attendance_events").Count(&n).Error)
	return n
}

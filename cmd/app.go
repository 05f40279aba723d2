package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/camden-git/attendancebackend/config"
	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/detection"
	"github.com/camden-git/attendancebackend/lbph"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/metrics"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
	"github.com/camden-git/attendancebackend/services"
	"github.com/camden-git/attendancebackend/vision"
)

type appOptions struct {
	detectors bool // load the Haar cascades
	metrics   bool
	hub       bool
}

// app holds the wired services shared by the commands.
type app struct {
	cfg        config.Config
	db         *gorm.DB
	cascades   *vision.Cascades
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	hub        *realtime.Hub
	snapshots  *media.Processor
	identities *repository.IdentityRepository
	ledger     *repository.AttendanceRepository

	classifier  *services.ClassifierService
	enrollment  *services.EnrollmentService
	recognition *services.RecognitionService
	attendance  *services.AttendanceService

	enrollLocator    *detection.Locator
	recognizeLocator *detection.Locator
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	dirs := []string{cfg.SnapshotsPath}
	if cfg.DatabaseDriver == config.DriverSQLite {
		dirs = append(dirs, filepath.Dir(cfg.DatabasePath))
	}
	for _, p := range dirs {
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", p, err)
		}
	}

	db, err := database.InitGormDB(database.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a := &app{cfg: cfg, db: db}

	store, err := media.NewLocalStorage(cfg.MediaStoragePath, map[media.AssetType]string{
		media.AssetTypeSnapshot: filepath.Base(cfg.SnapshotsPath),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}
	a.snapshots = media.NewProcessor(store)

	if opts.metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if a.metrics, err = metrics.NewMetrics(a.registry); err != nil {
			a.Close()
			return nil, err
		}
	}
	if opts.hub {
		a.hub = realtime.NewHub()
	}

	a.identities = repository.NewIdentityRepository(db, cfg.IdentityCacheTTL)
	a.ledger = repository.NewAttendanceRepository(db)
	a.classifier = services.NewClassifierService(a.identities, lbph.DefaultParams, cfg.TrainingTimeout, a.metrics, a.hub)

	if opts.detectors {
		if err := a.loadDetectors(); err != nil {
			a.Close()
			return nil, err
		}
	}

	pre := vision.NewPreprocessor()
	a.enrollment = &services.EnrollmentService{
		Gallery:          a.identities,
		Locator:          a.enrollLocator,
		Preprocessor:     pre,
		Classifier:       a.classifier,
		Snapshots:        a.snapshots,
		DetectionTimeout: cfg.DetectionTimeout,
		Metrics:          a.metrics,
		Hub:              a.hub,
	}
	a.recognition = &services.RecognitionService{
		Gallery:          a.identities,
		Ledger:           a.ledger,
		Locator:          a.recognizeLocator,
		Preprocessor:     pre,
		Classifier:       a.classifier,
		Threshold:        cfg.SimilarityThreshold,
		DetectionTimeout: cfg.DetectionTimeout,
		LateAfter:        cfg.LateAfter,
		Location:         cfg.Location,
		Metrics:          a.metrics,
		Hub:              a.hub,
	}
	a.attendance = &services.AttendanceService{
		DB:              db,
		Gallery:         a.identities,
		Ledger:          a.ledger,
		Classifier:      a.classifier,
		Snapshots:       a.snapshots,
		NameMatchPolicy: cfg.NameMatchPolicy,
		Location:        cfg.Location,
		Hub:             a.hub,
	}
	return a, nil
}

func (a *app) loadDetectors() error {
	cascades, err := vision.LoadCascades(a.cfg.CascadePath(a.cfg.PrimaryCascade), optionalPath(a.cfg, a.cfg.AlternateCascade))
	if err != nil {
		return fmt.Errorf("failed to load face detector: %w", err)
	}
	a.cascades = cascades
	primary, alternate := cascades.Detectors()

	enrollPolicy, err := detection.PolicyByName(a.cfg.EnrollOverlapPolicy)
	if err != nil {
		return err
	}
	recognizePolicy, err := detection.PolicyByName(a.cfg.RecognizeOverlapPolicy)
	if err != nil {
		return err
	}
	a.enrollLocator = detection.NewEnrollmentLocator(primary, alternate, enrollPolicy)
	if a.cfg.EnrollSchedule != nil {
		a.enrollLocator.Schedule = a.cfg.EnrollSchedule
	}
	a.recognizeLocator = detection.NewRecognitionLocator(primary, alternate, recognizePolicy)
	if a.cfg.RecognizeSchedule != nil {
		a.recognizeLocator.Schedule = a.cfg.RecognizeSchedule
	}
	return nil
}

func optionalPath(cfg config.Config, name string) string {
	if name == "" {
		return ""
	}
	return cfg.CascadePath(name)
}

func (a *app) Close() {
	if a.classifier != nil {
		a.classifier.Close()
	}
	if a.cascades != nil {
		a.cascades.Close()
	}
	if err := database.Close(a.db); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

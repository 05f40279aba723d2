package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/camden-git/attendancebackend/detection"
)

const (
	DefaultSnapshotsSubDir = "enrollment_snapshots"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Policy names accepted by the overlap and name-match settings.
const (
	OverlapHalfOfSmaller = "half_of_smaller"
	OverlapAny           = "any"

	NameMatchFirst  = "first"
	NameMatchStrict = "strict"
)

const (
	defaultSimilarityThreshold = 0.1
	defaultDetectionTimeout    = 10 * time.Second
	defaultTrainingTimeout     = 2 * time.Minute
	defaultIdentityCacheTTL    = 5 * time.Minute
	defaultEnrollQueueSize     = 100
	defaultNumEnrollWorkers    = 2
	defaultDBMaxOpenConns      = 25
	defaultDBMaxIdleConns      = 5
	defaultPort                = "8080"

	// minDuration rejects bare numbers, which parse as nanoseconds.
	minDuration = time.Millisecond
)

type Config struct {
	// database settings
	DatabaseDriver   string // sqlite or mysql
	DatabasePath     string // sqlite file path
	DatabaseDSN      string // mysql dsn, ignored for sqlite
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBLogLevel       string // silent, error, warn, info
	MediaStoragePath string // root for archived enrollment crops
	SnapshotsPath    string // full-calculated path for enrollment snapshots

	// haar cascade files, resolved against CascadeDir when relative
	CascadeDir       string
	PrimaryCascade   string
	AlternateCascade string

	// recognition settings
	SimilarityThreshold    float64
	DetectionTimeout       time.Duration
	TrainingTimeout        time.Duration
	EnrollOverlapPolicy    string
	RecognizeOverlapPolicy string
	NameMatchPolicy        string

	// detector scan schedules; nil keeps the built-in ones
	EnrollSchedule    []detection.ScanParams
	RecognizeSchedule []detection.ScanParams

	// LateAfter is the local time of day ("HH:MM:SS") after which a new mark
	// is recorded as late. Empty disables late marking.
	LateAfter string
	Location  *time.Location

	IdentityCacheTTL time.Duration

	// worker settings for bulk enrollment
	EnrollQueueSize  int
	NumEnrollWorkers int

	Port               string
	CORSAllowedOrigins []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_DRIVER", DriverSQLite)
	v.SetDefault("DATABASE_PATH", "attendance.db")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", defaultDBMaxOpenConns)
	v.SetDefault("DB_MAX_IDLE_CONNS", defaultDBMaxIdleConns)
	v.SetDefault("DB_LOG_LEVEL", "warn")
	v.SetDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	v.SetDefault("SNAPSHOTS_SUBDIR", DefaultSnapshotsSubDir)
	v.SetDefault("CASCADE_DIR", "./cascades")
	v.SetDefault("PRIMARY_CASCADE", "haarcascade_frontalface_default.xml")
	v.SetDefault("ALTERNATE_CASCADE", "haarcascade_frontalface_alt2.xml")
	v.SetDefault("SIMILARITY_THRESHOLD", defaultSimilarityThreshold)
	v.SetDefault("DETECTION_TIMEOUT", defaultDetectionTimeout)
	v.SetDefault("TRAINING_TIMEOUT", defaultTrainingTimeout)
	v.SetDefault("ENROLL_OVERLAP_POLICY", OverlapAny)
	v.SetDefault("RECOGNIZE_OVERLAP_POLICY", OverlapHalfOfSmaller)
	v.SetDefault("NAME_MATCH_POLICY", NameMatchFirst)
	v.SetDefault("ENROLL_SCAN_SCHEDULE", "")
	v.SetDefault("RECOGNIZE_SCAN_SCHEDULE", "")
	v.SetDefault("LATE_AFTER", "")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("IDENTITY_CACHE_TTL", defaultIdentityCacheTTL)
	v.SetDefault("ENROLL_QUEUE_SIZE", defaultEnrollQueueSize)
	v.SetDefault("ENROLL_WORKERS", defaultNumEnrollWorkers)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
}

func getIntOrDefault(v *viper.Viper, key string, defaultVal int) int {
	val, err := cast.ToIntE(v.Get(key))
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d.", key, v.GetString(key), defaultVal)
		return defaultVal
	}
	return val
}

// getDurationOrDefault accepts Go duration strings of at least a millisecond,
// and zero when allowZero is set.
func getDurationOrDefault(v *viper.Viper, key string, defaultVal time.Duration, allowZero bool) time.Duration {
	val, err := cast.ToDurationE(v.Get(key))
	switch {
	case err != nil:
	case val == 0 && allowZero:
		return 0
	case val >= minDuration:
		return val
	}
	log.Printf("Warning: Invalid %s '%s'. Using default %s.", key, v.GetString(key), defaultVal)
	return defaultVal
}

func getScheduleOrDefault(v *viper.Viper, key string) []detection.ScanParams {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return nil
	}
	schedule, err := detection.ParseSchedule(raw)
	if err != nil {
		log.Printf("Warning: Invalid %s '%s': %v. Using built-in schedule.", key, raw, err)
		return nil
	}
	return schedule
}

func getChoiceOrDefault(v *viper.Viper, key, defaultVal string, allowed ...string) string {
	val := strings.ToLower(strings.TrimSpace(v.GetString(key)))
	for _, a := range allowed {
		if val == a {
			return val
		}
	}
	log.Printf("Warning: Invalid %s '%s'. Using default %s.", key, val, defaultVal)
	return defaultVal
}

// LoadConfig resolves configuration from the environment. Callers load .env
// files beforehand.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (Config, error) {
	driver := getChoiceOrDefault(v, "DATABASE_DRIVER", DriverSQLite, DriverSQLite, DriverMySQL)
	dsn := v.GetString("DATABASE_DSN")
	if driver == DriverMySQL && dsn == "" {
		return Config{}, fmt.Errorf("DATABASE_DSN is required when DATABASE_DRIVER is %s", DriverMySQL)
	}

	mediaStorage := v.GetString("MEDIA_STORAGE_PATH")
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}
	absSnapshotsPath := filepath.Join(absMediaStorage, v.GetString("SNAPSHOTS_SUBDIR"))

	threshold, err := cast.ToFloat64E(v.Get("SIMILARITY_THRESHOLD"))
	if err != nil || threshold < 0 || threshold >= 1 {
		log.Printf("Warning: Invalid SIMILARITY_THRESHOLD '%s'. Using default %.2f.", v.GetString("SIMILARITY_THRESHOLD"), defaultSimilarityThreshold)
		threshold = defaultSimilarityThreshold
	}

	tzName := v.GetString("TIMEZONE")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return Config{}, fmt.Errorf("failed to load timezone '%s': %w", tzName, err)
	}

	lateAfter := strings.TrimSpace(v.GetString("LATE_AFTER"))
	if lateAfter != "" {
		if _, err := time.Parse(time.TimeOnly, lateAfter); err != nil {
			return Config{}, fmt.Errorf("invalid LATE_AFTER '%s', expected HH:MM:SS: %w", lateAfter, err)
		}
	}

	var origins []string
	for _, o := range strings.Split(v.GetString("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	cfg := Config{
		DatabaseDriver:         driver,
		DatabasePath:           v.GetString("DATABASE_PATH"),
		DatabaseDSN:            dsn,
		DBMaxOpenConns:         getIntOrDefault(v, "DB_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
		DBMaxIdleConns:         getIntOrDefault(v, "DB_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
		DBLogLevel:             strings.ToLower(v.GetString("DB_LOG_LEVEL")),
		MediaStoragePath:       absMediaStorage,
		SnapshotsPath:          absSnapshotsPath,
		CascadeDir:             v.GetString("CASCADE_DIR"),
		PrimaryCascade:         v.GetString("PRIMARY_CASCADE"),
		AlternateCascade:       v.GetString("ALTERNATE_CASCADE"),
		SimilarityThreshold:    threshold,
		DetectionTimeout:       getDurationOrDefault(v, "DETECTION_TIMEOUT", defaultDetectionTimeout, false),
		TrainingTimeout:        getDurationOrDefault(v, "TRAINING_TIMEOUT", defaultTrainingTimeout, false),
		EnrollOverlapPolicy:    getChoiceOrDefault(v, "ENROLL_OVERLAP_POLICY", OverlapAny, OverlapAny, OverlapHalfOfSmaller),
		RecognizeOverlapPolicy: getChoiceOrDefault(v, "RECOGNIZE_OVERLAP_POLICY", OverlapHalfOfSmaller, OverlapAny, OverlapHalfOfSmaller),
		NameMatchPolicy:        getChoiceOrDefault(v, "NAME_MATCH_POLICY", NameMatchFirst, NameMatchFirst, NameMatchStrict),
		EnrollSchedule:         getScheduleOrDefault(v, "ENROLL_SCAN_SCHEDULE"),
		RecognizeSchedule:      getScheduleOrDefault(v, "RECOGNIZE_SCAN_SCHEDULE"),
		LateAfter:              lateAfter,
		Location:               loc,
		IdentityCacheTTL:       getDurationOrDefault(v, "IDENTITY_CACHE_TTL", defaultIdentityCacheTTL, true),
		EnrollQueueSize:        getIntOrDefault(v, "ENROLL_QUEUE_SIZE", defaultEnrollQueueSize),
		NumEnrollWorkers:       getIntOrDefault(v, "ENROLL_WORKERS", defaultNumEnrollWorkers),
		Port:                   v.GetString("PORT"),
		CORSAllowedOrigins:     origins,
	}

	return cfg, nil
}

// CascadePath resolves a cascade file name against CascadeDir.
func (c Config) CascadePath(name string) string {
	if filepath.IsAbs(name) || c.CascadeDir == "" {
		return name
	}
	return filepath.Join(c.CascadeDir, name)
}

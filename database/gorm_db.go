package database

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/attendancebackend/config"
	"github.com/camden-git/attendancebackend/models"
)

// Options controls how InitGormDB opens the database.
type Options struct {
	Driver       string // config.DriverSQLite or config.DriverMySQL
	DSN          string // file path for sqlite, full dsn for mysql
	MaxOpenConns int
	MaxIdleConns int
	LogLevel     string
}

// OptionsFromConfig builds Options from the application config.
func OptionsFromConfig(cfg config.Config) Options {
	dsn := cfg.DatabasePath
	if cfg.DatabaseDriver == config.DriverMySQL {
		dsn = cfg.DatabaseDSN
	}
	return Options{
		Driver:       cfg.DatabaseDriver,
		DSN:          dsn,
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
		LogLevel:     cfg.DBLogLevel,
	}
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// sqliteDSN enables WAL, a busy timeout and foreign keys on a plain file path.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// InitGormDB initializes and returns a GORM database instance
func InitGormDB(opts Options) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  parseLogLevel(opts.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	var dialector gorm.Dialector
	switch opts.Driver {
	case config.DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	case config.DriverSQLite, "":
		dialector = sqlite.Open(sqliteDSN(opts.DSN))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	if opts.Driver == config.DriverMySQL {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	} else {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY churn
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetMaxOpenConns(1)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Printf("GORM Database initialized successfully (%s)", opts.Driver)
	return db, nil
}

// AutoMigrateModels creates or updates the identity and attendance tables.
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Identity{},
		&models.AttendanceEvent{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	log.Println("GORM AutoMigrate completed successfully.")
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	return sqlDB.Close()
}

// internal/database/db.go
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"vaste-chatbot/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Options struct {
	Driver     string
	URL        string // full postgres DSN, takes precedence over the discrete fields
	Host       string
	User       string
	Password   string
	Name       string
	Port       int
	SQLitePath string
	LogQueries bool
}

type DB struct {
	*gorm.DB
	driver string
}

func NewDB(opts Options) (*DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if opts.LogQueries {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var (
		gormDB *gorm.DB
		err    error
	)
	switch opts.Driver {
	case DriverSQLite:
		gormDB, err = openSQLite(opts.SQLitePath, gormCfg)
	case DriverPostgres, "":
		gormDB, err = openPostgres(opts, gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	db := &DB{DB: gormDB, driver: gormDB.Dialector.Name()}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func openPostgres(opts Options, cfg *gorm.Config) (*gorm.DB, error) {
	dsn := opts.URL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			opts.Host, opts.User, opts.Password, opts.Name, opts.Port)
	}

	gormDB, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Enable pgvector extension
	if err := gormDB.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("enable pgvector: %w", err)
	}
	return gormDB, nil
}

func openSQLite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	gormDB, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single writer keeps conditional updates serialized instead of failing with SQLITE_BUSY.
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return gormDB, nil
}

func (db *DB) migrate() error {
	return db.AutoMigrate(
		&models.Agent{},
		&models.ChatSession{},
		&models.ChatMessage{},
		&models.KnowledgeEntry{},
		&models.BotConfig{},
	)
}

// SupportsVectorSearch reports whether similarity ordering can run inside the database.
func (db *DB) SupportsVectorSearch() bool {
	return db.driver == DriverPostgres
}

func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

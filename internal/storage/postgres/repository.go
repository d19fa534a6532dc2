// Package postgres implements the notes repository on PostgreSQL via gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// PoolConfig sizes the connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Connect opens a gorm handle on dsn and verifies it with a ping
func Connect(ctx context.Context, dsn string, pool PoolConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Repository is the gorm-backed notes repository
type Repository struct {
	db     *gorm.DB
	logger *logger.Logger
}

// NewRepository wraps an open gorm handle
func NewRepository(db *gorm.DB, logger *logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.Named("postgres-store"),
	}
}

// Migrate creates or updates the patients and notes tables
func (r *Repository) Migrate(ctx context.Context) error {
	r.logger.Info("Running database migrations")
	start := time.Now()

	if err := r.db.WithContext(ctx).AutoMigrate(&patientRecord{}, &noteRecord{}); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	r.logger.Info("Migrations completed", logger.Duration("duration", time.Since(start)))
	return nil
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ListPatients returns all patients ordered by id
func (r *Repository) ListPatients(ctx context.Context) ([]notes.Patient, error) {
	var records []patientRecord
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("querying patients: %w", err)
	}

	patients := make([]notes.Patient, 0, len(records))
	for _, rec := range records {
		patients = append(patients, rec.toDomain())
	}
	return patients, nil
}

// FindPatient returns the patient with the given id
func (r *Repository) FindPatient(ctx context.Context, id int64) (*notes.Patient, error) {
	var rec patientRecord
	err := r.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notes.ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying patient %d: %w", id, err)
	}
	p := rec.toDomain()
	return &p, nil
}

// FirstPatient returns the lowest-id patient
func (r *Repository) FirstPatient(ctx context.Context) (*notes.Patient, error) {
	var rec patientRecord
	err := r.db.WithContext(ctx).Order("id ASC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notes.ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying first patient: %w", err)
	}
	p := rec.toDomain()
	return &p, nil
}

// CreatePatients inserts patients in one transaction
func (r *Repository) CreatePatients(ctx context.Context, patients []notes.Patient) error {
	if len(patients) == 0 {
		return nil
	}
	records := make([]patientRecord, 0, len(patients))
	for _, p := range patients {
		records = append(records, patientRecord{Name: p.Name, DOB: p.DOB.UTC()})
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("inserting patients: %w", err)
		}
		return nil
	})
}

// CreateNote inserts a note and reloads it with its patient
func (r *Repository) CreateNote(ctx context.Context, n *notes.NewNote) (*notes.Note, error) {
	rec := newNoteRecord(n)
	if err := r.db.WithContext(ctx).Omit("Patient").Create(rec).Error; err != nil {
		return nil, fmt.Errorf("inserting note: %w", err)
	}
	return r.FindNote(ctx, rec.ID)
}

// ListNotes returns note summaries, newest first
func (r *Repository) ListNotes(ctx context.Context) ([]notes.NoteSummary, error) {
	var records []noteRecord
	err := r.db.WithContext(ctx).
		Select("id", "created_at", "summary", "patient_id").
		Preload("Patient").
		Order("created_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("querying notes: %w", err)
	}

	summaries := make([]notes.NoteSummary, 0, len(records))
	for i := range records {
		summaries = append(summaries, records[i].toSummary())
	}
	return summaries, nil
}

// FindNote returns a full note with its patient
func (r *Repository) FindNote(ctx context.Context, id int64) (*notes.Note, error) {
	var rec noteRecord
	err := r.db.WithContext(ctx).Preload("Patient").First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notes.ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying note %d: %w", id, err)
	}
	return rec.toDomain(), nil
}

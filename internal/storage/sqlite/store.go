package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// Store handles storage of patients and notes
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *logger.Logger
}

// NewStore creates a SQLite-backed notes repository
func NewStore(db *sql.DB, logger *logger.Logger) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: logger.Named("sqlite-store"),
	}
}

// Migrate creates tables and indexes if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS patients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			dob TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create patients table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			patient_id INTEGER NOT NULL,
			audio_key TEXT NOT NULL,
			transcription TEXT NOT NULL,
			summary TEXT NOT NULL,
			oasis_m1800 TEXT NOT NULL,
			oasis_m1810 TEXT NOT NULL,
			oasis_m1820 TEXT NOT NULL,
			oasis_m1830 TEXT NOT NULL,
			oasis_m1840 TEXT NOT NULL,
			oasis_m1850 TEXT NOT NULL,
			oasis_m1860 TEXT NOT NULL,
			oasis_raw TEXT NOT NULL,
			FOREIGN KEY (patient_id) REFERENCES patients(id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create notes table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_notes_created_at ON notes(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_patient_id ON notes(patient_id)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create notes index: %w", err)
		}
	}

	s.logger.Debug("Schema ready")
	return nil
}

// ListPatients returns all patients ordered by id
func (s *Store) ListPatients(ctx context.Context) ([]notes.Patient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, dob FROM patients ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	patients := []notes.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patients: %w", err)
	}
	return patients, nil
}

// FindPatient returns the patient with the given id
func (s *Store) FindPatient(ctx context.Context, id int64) (*notes.Patient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, dob FROM patients WHERE id = ?`, id)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notes.ErrPatientNotFound
	}
	return p, err
}

// FirstPatient returns the lowest-id patient
func (s *Store) FirstPatient(ctx context.Context) (*notes.Patient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, dob FROM patients ORDER BY id ASC LIMIT 1`)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notes.ErrPatientNotFound
	}
	return p, err
}

// CreatePatients inserts patients in a single transaction
func (s *Store) CreatePatients(ctx context.Context, patients []notes.Patient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range patients {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO patients (name, dob) VALUES (?, ?)`,
			p.Name, p.DOB.UTC().Format(dateLayout),
		); err != nil {
			return fmt.Errorf("failed to insert patient %q: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit patients: %w", err)
	}
	return nil
}

// CreateNote stores a note and returns it with its patient
func (s *Store) CreateNote(ctx context.Context, n *notes.NewNote) (*notes.Note, error) {
	raw, err := json.Marshal(rawOrEmpty(n.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to encode oasis raw: %w", err)
	}
	createdAt := s.now().UTC().Truncate(time.Millisecond)

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO notes
		(created_at, patient_id, audio_key, transcription, summary,
		 oasis_m1800, oasis_m1810, oasis_m1820, oasis_m1830, oasis_m1840, oasis_m1850, oasis_m1860, oasis_raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(createdAt),
		n.PatientID,
		n.AudioKey,
		n.Transcription,
		n.Summary,
		n.Fields.M1800,
		n.Fields.M1810,
		n.Fields.M1820,
		n.Fields.M1830,
		n.Fields.M1840,
		n.Fields.M1850,
		n.Fields.M1860,
		string(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert note: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return s.FindNote(ctx, id)
}

// ListNotes returns note summaries, newest first
func (s *Store) ListNotes(ctx context.Context) ([]notes.NoteSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.created_at, n.summary, p.id, p.name, p.dob
		FROM notes n
		JOIN patients p ON p.id = n.patient_id
		ORDER BY n.created_at DESC, n.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	summaries := []notes.NoteSummary{}
	for rows.Next() {
		var (
			summary        notes.NoteSummary
			createdAt, dob string
		)
		if err := rows.Scan(
			&summary.ID,
			&createdAt,
			&summary.Summary,
			&summary.Patient.ID,
			&summary.Patient.Name,
			&dob,
		); err != nil {
			return nil, fmt.Errorf("failed to scan note summary: %w", err)
		}
		if summary.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if summary.Patient.DOB, err = time.Parse(dateLayout, dob); err != nil {
			return nil, fmt.Errorf("failed to parse dob: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return summaries, nil
}

// FindNote returns a full note with its patient
func (s *Store) FindNote(ctx context.Context, id int64) (*notes.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT n.id, n.created_at, n.patient_id, n.audio_key, n.transcription, n.summary,
		 n.oasis_m1800, n.oasis_m1810, n.oasis_m1820, n.oasis_m1830, n.oasis_m1840, n.oasis_m1850, n.oasis_m1860,
		 n.oasis_raw, p.id, p.name, p.dob
		FROM notes n
		JOIN patients p ON p.id = n.patient_id
		WHERE n.id = ?`,
		id,
	)

	var (
		note                notes.Note
		patient             notes.Patient
		createdAt, raw, dob string
	)
	err := row.Scan(
		&note.ID,
		&createdAt,
		&note.PatientID,
		&note.AudioKey,
		&note.Transcription,
		&note.Summary,
		&note.M1800,
		&note.M1810,
		&note.M1820,
		&note.M1830,
		&note.M1840,
		&note.M1850,
		&note.M1860,
		&raw,
		&patient.ID,
		&patient.Name,
		&dob,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notes.ErrNoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan note: %w", err)
	}

	if note.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if patient.DOB, err = time.Parse(dateLayout, dob); err != nil {
		return nil, fmt.Errorf("failed to parse dob: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &note.OasisRaw); err != nil {
		return nil, fmt.Errorf("failed to decode oasis raw: %w", err)
	}
	if note.OasisRaw == nil {
		note.OasisRaw = map[string]any{}
	}
	note.Patient = &patient

	return &note, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanPatient scans one patients row
func scanPatient(row rowScanner) (*notes.Patient, error) {
	var (
		p   notes.Patient
		dob string
	)
	if err := row.Scan(&p.ID, &p.Name, &dob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan patient: %w", err)
	}

	var err error
	p.DOB, err = time.Parse(dateLayout, dob)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dob: %w", err)
	}
	return &p, nil
}

func rawOrEmpty(raw map[string]any) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	return raw
}

package notes

import "context"

// Repository is the persistence port. It exposes the few queries the
// service needs and nothing more.
type Repository interface {
	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// ListPatients returns all patients ordered by id ascending.
	ListPatients(ctx context.Context) ([]Patient, error)

	// FindPatient returns ErrPatientNotFound if no patient has the id.
	FindPatient(ctx context.Context, id int64) (*Patient, error)

	// FirstPatient returns the lowest-id patient, or ErrPatientNotFound when empty.
	FirstPatient(ctx context.Context) (*Patient, error)

	// CreatePatients inserts patients in one transaction.
	CreatePatients(ctx context.Context, patients []Patient) error

	// CreateNote inserts a note, assigning id and creation time. The returned
	// note includes its patient.
	CreateNote(ctx context.Context, n *NewNote) (*Note, error)

	// ListNotes returns summaries ordered by creation time, newest first.
	ListNotes(ctx context.Context) ([]NoteSummary, error)

	// FindNote returns ErrNoteNotFound if no note has the id.
	FindNote(ctx context.Context, id int64) (*Note, error)
}

package notes

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultPatients are inserted by Seed into an empty store
func DefaultPatients() []Patient {
	return []Patient{
		{Name: "John Doe", DOB: time.Date(1948, time.March, 12, 0, 0, 0, 0, time.UTC)},
		{Name: "Jane Smith", DOB: time.Date(1955, time.October, 8, 0, 0, 0, 0, time.UTC)},
		{Name: "Alice Johnson", DOB: time.Date(1962, time.July, 30, 0, 0, 0, 0, time.UTC)},
	}
}

// Seed inserts DefaultPatients unless at least one patient exists.
// It reports whether anything was inserted.
func Seed(ctx context.Context, repo Repository) (bool, error) {
	_, err := repo.FirstPatient(ctx)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ErrPatientNotFound):
		return false, fmt.Errorf("failed to check existing patients: %w", err)
	}

	if err := repo.CreatePatients(ctx, DefaultPatients()); err != nil {
		return false, fmt.Errorf("failed to seed patients: %w", err)
	}
	return true, nil
}

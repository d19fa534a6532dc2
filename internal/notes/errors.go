package notes

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrNoteNotFound    = errors.New("note not found")
)

// ValidationError is a user-correctable input problem on a single field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// maxSafeID keeps ids within what JSON clients can represent exactly
const maxSafeID = 1<<53 - 1

// ParseID parses a positive integer identifier. Integral decimal forms such
// as "3.0" are accepted; anything else yields a ValidationError for field.
func ParseID(raw, field, message string) (int64, error) {
	invalid := &ValidationError{Field: field, Message: message}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, invalid
	}

	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if id <= 0 || id > maxSafeID {
			return 0, invalid
		}
		return id, nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || f <= 0 || f > maxSafeID {
		return 0, invalid
	}
	return int64(f), nil
}

package notes

import (
	"time"

	"github.com/yegors/oasis-scribe/internal/oasis"
)

// Patient is seeded once and read-only afterwards
type Patient struct {
	ID   int64     `json:"id"`
	Name string    `json:"name"`
	DOB  time.Time `json:"dob"`
}

// OasisFields holds the seven normalized Section G scores
type OasisFields struct {
	M1800 string `json:"oasisM1800"`
	M1810 string `json:"oasisM1810"`
	M1820 string `json:"oasisM1820"`
	M1830 string `json:"oasisM1830"`
	M1840 string `json:"oasisM1840"`
	M1850 string `json:"oasisM1850"`
	M1860 string `json:"oasisM1860"`
}

// NormalizedFields normalizes every item of v into an OasisFields
func NormalizedFields(v oasis.Values) OasisFields {
	n := oasis.NormalizeAll(v)
	return OasisFields{
		M1800: n[oasis.M1800],
		M1810: n[oasis.M1810],
		M1820: n[oasis.M1820],
		M1830: n[oasis.M1830],
		M1840: n[oasis.M1840],
		M1850: n[oasis.M1850],
		M1860: n[oasis.M1860],
	}
}

// Note is one ingested clinical encounter. Notes are never updated.
type Note struct {
	ID            int64     `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	PatientID     int64     `json:"patientId"`
	AudioKey      string    `json:"audioKey"`
	Transcription string    `json:"transcription"`
	Summary       string    `json:"summary"`
	OasisFields
	OasisRaw map[string]any `json:"oasisRaw"`
	Patient  *Patient       `json:"patient,omitempty"`
}

// NewNote carries the values persisted by Repository.CreateNote
type NewNote struct {
	PatientID     int64
	AudioKey      string
	Transcription string
	Summary       string
	Fields        OasisFields
	Raw           map[string]any
}

// NoteSummary is the list view of a note. It omits the transcript and the
// raw extraction payload.
type NoteSummary struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Summary   string    `json:"summary"`
	Patient   Patient   `json:"patient"`
}

// NoteDetail is a note with a freshly resolved audio URL
type NoteDetail struct {
	Note
	AudioURL *string `json:"audioUrl"`
}

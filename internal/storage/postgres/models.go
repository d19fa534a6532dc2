package postgres

import (
	"time"

	"github.com/yegors/oasis-scribe/internal/notes"
)

type patientRecord struct {
	ID   int64     `gorm:"primaryKey;autoIncrement"`
	Name string    `gorm:"column:name;type:varchar(255);not null"`
	DOB  time.Time `gorm:"column:dob;type:date;not null"`
}

func (patientRecord) TableName() string { return "patients" }

type noteRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime;not null;index"`
	PatientID     int64     `gorm:"column:patient_id;not null;index"`
	AudioKey      string    `gorm:"column:audio_key;type:text;not null"`
	Transcription string    `gorm:"column:transcription;type:text;not null"`
	Summary       string    `gorm:"column:summary;type:text;not null"`

	OasisM1800 string `gorm:"column:oasis_m1800;type:varchar(8);not null"`
	OasisM1810 string `gorm:"column:oasis_m1810;type:varchar(8);not null"`
	OasisM1820 string `gorm:"column:oasis_m1820;type:varchar(8);not null"`
	OasisM1830 string `gorm:"column:oasis_m1830;type:varchar(8);not null"`
	OasisM1840 string `gorm:"column:oasis_m1840;type:varchar(8);not null"`
	OasisM1850 string `gorm:"column:oasis_m1850;type:varchar(8);not null"`
	OasisM1860 string `gorm:"column:oasis_m1860;type:varchar(8);not null"`

	OasisRaw map[string]any `gorm:"column:oasis_raw;type:jsonb;serializer:json;not null"`

	Patient patientRecord `gorm:"foreignKey:PatientID;constraint:OnDelete:RESTRICT"`
}

func (noteRecord) TableName() string { return "notes" }

func (r patientRecord) toDomain() notes.Patient {
	return notes.Patient{ID: r.ID, Name: r.Name, DOB: r.DOB.UTC()}
}

func newNoteRecord(n *notes.NewNote) *noteRecord {
	raw := n.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	return &noteRecord{
		PatientID:     n.PatientID,
		AudioKey:      n.AudioKey,
		Transcription: n.Transcription,
		Summary:       n.Summary,
		OasisM1800:    n.Fields.M1800,
		OasisM1810:    n.Fields.M1810,
		OasisM1820:    n.Fields.M1820,
		OasisM1830:    n.Fields.M1830,
		OasisM1840:    n.Fields.M1840,
		OasisM1850:    n.Fields.M1850,
		OasisM1860:    n.Fields.M1860,
		OasisRaw:      raw,
	}
}

func (r *noteRecord) toDomain() *notes.Note {
	patient := r.Patient.toDomain()
	raw := r.OasisRaw
	if raw == nil {
		raw = map[string]any{}
	}
	return &notes.Note{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt.UTC(),
		PatientID:     r.PatientID,
		AudioKey:      r.AudioKey,
		Transcription: r.Transcription,
		Summary:       r.Summary,
		OasisFields: notes.OasisFields{
			M1800: r.OasisM1800,
			M1810: r.OasisM1810,
			M1820: r.OasisM1820,
			M1830: r.OasisM1830,
			M1840: r.OasisM1840,
			M1850: r.OasisM1850,
			M1860: r.OasisM1860,
		},
		OasisRaw: raw,
		Patient:  &patient,
	}
}

func (r *noteRecord) toSummary() notes.NoteSummary {
	return notes.NoteSummary{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.UTC(),
		Summary:   r.Summary,
		Patient:   r.Patient.toDomain(),
	}
}

package notes

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yegors/oasis-scribe/internal/ai"
	"github.com/yegors/oasis-scribe/internal/audio"
	"github.com/yegors/oasis-scribe/internal/oasis"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

// mockRepository is an in-memory Repository
type mockRepository struct {
	mu       sync.Mutex
	patients map[int64]Patient
	notes    []Note
	nextID   int64
	clock    time.Time

	createErr error
}

func newMockRepository(patients ...Patient) *mockRepository {
	r := &mockRepository{
		patients: make(map[int64]Patient),
		clock:    time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	for _, p := range patients {
		r.patients[p.ID] = p
	}
	return r
}

func (r *mockRepository) Ping(ctx context.Context) error { return nil }

func (r *mockRepository) ListPatients(ctx context.Context) ([]Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Patient, 0, len(r.patients))
	for _, p := range r.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *mockRepository) FindPatient(ctx context.Context, id int64) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *mockRepository) FirstPatient(ctx context.Context) (*Patient, error) {
	patients, _ := r.ListPatients(ctx)
	if len(patients) == 0 {
		return nil, ErrPatientNotFound
	}
	return &patients[0], nil
}

func (r *mockRepository) CreatePatients(ctx context.Context, patients []Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range patients {
		p.ID = int64(len(r.patients) + 1)
		r.patients[p.ID] = p
	}
	return nil
}

func (r *mockRepository) CreateNote(ctx context.Context, n *NewNote) (*Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.nextID++
	r.clock = r.clock.Add(time.Minute)
	p := r.patients[n.PatientID]
	note := Note{
		ID:            r.nextID,
		CreatedAt:     r.clock,
		PatientID:     n.PatientID,
		AudioKey:      n.AudioKey,
		Transcription: n.Transcription,
		Summary:       n.Summary,
		OasisFields:   n.Fields,
		OasisRaw:      n.Raw,
		Patient:       &p,
	}
	r.notes = append(r.notes, note)
	return &note, nil
}

func (r *mockRepository) ListNotes(ctx context.Context) ([]NoteSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NoteSummary, 0, len(r.notes))
	for i := len(r.notes) - 1; i >= 0; i-- {
		n := r.notes[i]
		out = append(out, NoteSummary{ID: n.ID, CreatedAt: n.CreatedAt, Summary: n.Summary, Patient: *n.Patient})
	}
	return out, nil
}

func (r *mockRepository) FindNote(ctx context.Context, id int64) (*Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notes {
		if n.ID == id {
			return &n, nil
		}
	}
	return nil, ErrNoteNotFound
}

// mockStore mimics a remote backend unless keepsSource is set
type mockStore struct {
	keepsSource bool
	putErr      error
	resolveErr  error

	mu  sync.Mutex
	put []string
}

func (s *mockStore) Kind() string {
	if s.keepsSource {
		return "local"
	}
	return "s3"
}

func (s *mockStore) KeepsSource() bool { return s.keepsSource }

func (s *mockStore) Put(ctx context.Context, upload *audio.TempFile) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	if _, err := os.Stat(upload.Path()); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.put = append(s.put, upload.Name())
	s.mu.Unlock()
	return upload.Name(), nil
}

func (s *mockStore) Resolve(ctx context.Context, key string) (string, error) {
	if s.resolveErr != nil {
		return "", s.resolveErr
	}
	return "https://audio.example/" + key + "?sig=fresh", nil
}

// mockPipeline records the path it was asked to transcribe
type mockPipeline struct {
	mu         sync.Mutex
	paths      []string
	extraction ai.Extraction
}

func (p *mockPipeline) Transcribe(ctx context.Context, path string) string {
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return "missing file"
	}
	return "Patient ambulates with a walker"
}

func (p *mockPipeline) Summarize(ctx context.Context, transcript string) string {
	return "Summary: " + transcript
}

func (p *mockPipeline) Extract(ctx context.Context, transcript string) ai.Extraction {
	if p.extraction.Values != nil {
		return p.extraction
	}
	return ai.DefaultExtraction()
}

type countingRecorder struct {
	mu       sync.Mutex
	ingested int
	failed   int
}

func (r *countingRecorder) NoteIngested(string) {
	r.mu.Lock()
	r.ingested++
	r.mu.Unlock()
}

func (r *countingRecorder) AudioStoreFailed(string) {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

var johnDoe = Patient{ID: 1, Name: "John Doe", DOB: time.Date(1948, 3, 12, 0, 0, 0, 0, time.UTC)}

func newUpload(t *testing.T, name string) *audio.TempFile {
	t.Helper()
	dir, err := audio.NewUploadDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewUploadDir: %v", err)
	}
	upload, err := dir.Save(name, "audio/mpeg", strings.NewReader("ID3 fake mp3 bytes"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return upload
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestIngestRemoteStoreReleasesUpload(t *testing.T) {
	repo := newMockRepository(johnDoe)
	store := &mockStore{}
	pipeline := &mockPipeline{}
	recorder := &countingRecorder{}
	svc := NewService(repo, pipeline, store, recorder, logger.NewNop())

	upload := newUpload(t, "visit.mp3")
	detail, err := svc.Ingest(context.Background(), IngestRequest{PatientID: 1, Audio: upload})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if detail.ID != 1 || detail.PatientID != 1 {
		t.Errorf("note = %+v", detail.Note)
	}
	if detail.AudioKey != upload.Name() {
		t.Errorf("AudioKey = %q, want %q", detail.AudioKey, upload.Name())
	}
	if strings.HasPrefix(detail.AudioKey, "http") {
		t.Errorf("AudioKey must not be a URL: %q", detail.AudioKey)
	}
	if detail.Transcription != "Patient ambulates with a walker" {
		t.Errorf("Transcription = %q", detail.Transcription)
	}
	if detail.Summary != "Summary: Patient ambulates with a walker" {
		t.Errorf("Summary = %q", detail.Summary)
	}
	if detail.AudioURL == nil || *detail.AudioURL != "https://audio.example/"+upload.Name()+"?sig=fresh" {
		t.Errorf("AudioURL = %v", detail.AudioURL)
	}
	if detail.Patient == nil || detail.Patient.Name != "John Doe" {
		t.Errorf("Patient = %+v", detail.Patient)
	}

	// The pipeline must see the file before it is released
	if len(pipeline.paths) != 1 || pipeline.paths[0] != upload.Path() {
		t.Errorf("pipeline paths = %v", pipeline.paths)
	}
	if fileExists(upload.Path()) || !upload.Released() {
		t.Error("remote store should release the upload")
	}
	if recorder.ingested != 1 || recorder.failed != 0 {
		t.Errorf("recorder = %+v", recorder)
	}
}

func TestIngestLocalStoreKeepsUpload(t *testing.T) {
	repo := newMockRepository(johnDoe)
	store := &mockStore{keepsSource: true}
	svc := NewService(repo, &mockPipeline{}, store, nil, logger.NewNop())

	upload := newUpload(t, "visit.mp3")
	if _, err := svc.Ingest(context.Background(), IngestRequest{PatientID: 1, Audio: upload}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !fileExists(upload.Path()) || upload.Released() {
		t.Error("local store must keep the upload as the durable copy")
	}
}

func TestIngestNormalizesExtraction(t *testing.T) {
	raw := map[string]any{
		"M1800": 2,
		"M1810": "na",
		"M1820": 9,
		"M1830": -3,
		"M1840": "2.9",
		"M1850": "walker",
		"notes": "extra keys survive in the raw payload",
	}
	pipeline := &mockPipeline{extraction: ai.Extraction{Values: oasis.FromRaw(raw), Raw: raw}}
	svc := NewService(newMockRepository(johnDoe), pipeline, &mockStore{}, nil, logger.NewNop())

	detail, err := svc.Ingest(context.Background(), IngestRequest{PatientID: 1, Audio: newUpload(t, "a.mp3")})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	want := OasisFields{M1800: "2", M1810: "NA", M1820: "6", M1830: "0", M1840: "2", M1850: "0", M1860: "0"}
	if detail.OasisFields != want {
		t.Errorf("fields = %+v, want %+v", detail.OasisFields, want)
	}
	if detail.OasisRaw["notes"] != "extra keys survive in the raw payload" || detail.OasisRaw["M1820"] != 9 {
		t.Errorf("OasisRaw = %v", detail.OasisRaw)
	}
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name      string
		patientID int64
		noAudio   bool
		wantField string
		wantErr   error
		released  bool
	}{
		{name: "zero patient", patientID: 0, wantField: "patientId", released: true},
		{name: "negative patient", patientID: -4, wantField: "patientId", released: true},
		{name: "missing audio", patientID: 1, noAudio: true, wantField: "audio"},
		{name: "unknown patient", patientID: 99, wantErr: ErrPatientNotFound, released: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository(johnDoe)
			store := &mockStore{}
			pipeline := &mockPipeline{}
			svc := NewService(repo, pipeline, store, nil, logger.NewNop())

			var upload *audio.TempFile
			if !tt.noAudio {
				upload = newUpload(t, "a.mp3")
			}

			_, err := svc.Ingest(context.Background(), IngestRequest{PatientID: tt.patientID, Audio: upload})
			if tt.wantField != "" {
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Field != tt.wantField {
					t.Fatalf("err = %v, want validation error on %s", err, tt.wantField)
				}
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}

			if len(pipeline.paths) != 0 || len(store.put) != 0 || len(repo.notes) != 0 {
				t.Error("rejected request must not reach the pipeline, store or repository")
			}
			if upload != nil && upload.Released() != tt.released {
				t.Errorf("Released() = %v, want %v", upload.Released(), tt.released)
			}
		})
	}
}

func TestIngestStoreFailureKeepsUpload(t *testing.T) {
	repo := newMockRepository(johnDoe)
	store := &mockStore{putErr: errors.New("bucket unreachable")}
	recorder := &countingRecorder{}
	svc := NewService(repo, &mockPipeline{}, store, recorder, logger.NewNop())

	upload := newUpload(t, "a.mp3")
	_, err := svc.Ingest(context.Background(), IngestRequest{PatientID: 1, Audio: upload})
	if err == nil {
		t.Fatal("expected error")
	}
	var ve *ValidationError
	if errors.As(err, &ve) || errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("store failure must be an internal error, got %v", err)
	}
	if len(repo.notes) != 0 {
		t.Error("no note may be created when storage fails")
	}
	if !fileExists(upload.Path()) {
		t.Error("upload must be retained when storage fails")
	}
	if recorder.failed != 1 {
		t.Errorf("failed = %d, want 1", recorder.failed)
	}
}

func TestIngestAbortedRequestDiscardsUpload(t *testing.T) {
	repo := newMockRepository(johnDoe)
	store := &mockStore{}
	svc := NewService(repo, &mockPipeline{}, store, nil, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	upload := newUpload(t, "a.mp3")
	if _, err := svc.Ingest(ctx, IngestRequest{PatientID: 1, Audio: upload}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(store.put) != 0 || len(repo.notes) != 0 {
		t.Error("aborted request must not store audio or create a note")
	}
	if fileExists(upload.Path()) {
		t.Error("aborted upload should be removed")
	}
}

func TestIngestUnresolvableURLIsNull(t *testing.T) {
	store := &mockStore{resolveErr: errors.New("signing failed")}
	svc := NewService(newMockRepository(johnDoe), &mockPipeline{}, store, nil, logger.NewNop())

	detail, err := svc.Ingest(context.Background(), IngestRequest{PatientID: 1, Audio: newUpload(t, "a.mp3")})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if detail.AudioURL != nil {
		t.Errorf("AudioURL = %q, want nil", *detail.AudioURL)
	}
}

func TestIngestCreateFailure(t *testing.T) {
	repo := newMockRepository(johnDoe)
	repo.createErr = errors.New("disk full")
	svc := NewService(repo, &mockPipeline{}, &mockStore{}, nil, logger.NewNop())

	if _, err := svc.Ingest(context.Background(), IngestRequest{PatientID: 1, Audio: newUpload(t, "a.mp3")}); err == nil {
		t.Fatal("expected error")
	}
}

func TestListAndGetNotes(t *testing.T) {
	repo := newMockRepository(johnDoe)
	svc := NewService(repo, &mockPipeline{}, &mockStore{}, nil, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Ingest(ctx, IngestRequest{PatientID: 1, Audio: newUpload(t, "a.mp3")}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	summaries, err := svc.ListNotes(ctx)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("len = %d, want 3", len(summaries))
	}
	for i := 1; i < len(summaries); i++ {
		if summaries[i].CreatedAt.After(summaries[i-1].CreatedAt) {
			t.Errorf("summaries not newest first: %v", summaries)
		}
	}

	detail, err := svc.GetNote(ctx, summaries[0].ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if detail.ID != summaries[0].ID || detail.AudioURL == nil {
		t.Errorf("detail = %+v", detail)
	}

	if _, err := svc.GetNote(ctx, 999); !errors.Is(err, ErrNoteNotFound) {
		t.Errorf("GetNote(999) err = %v", err)
	}
	var ve *ValidationError
	if _, err := svc.GetNote(ctx, 0); !errors.As(err, &ve) {
		t.Errorf("GetNote(0) err = %v", err)
	}
}

func TestSeed(t *testing.T) {
	repo := newMockRepository()
	ctx := context.Background()

	seeded, err := Seed(ctx, repo)
	if err != nil || !seeded {
		t.Fatalf("Seed = %v, %v", seeded, err)
	}
	patients, _ := repo.ListPatients(ctx)
	if len(patients) != 3 || patients[0].Name != "John Doe" || patients[2].Name != "Alice Johnson" {
		t.Fatalf("patients = %+v", patients)
	}

	seeded, err = Seed(ctx, repo)
	if err != nil || seeded {
		t.Fatalf("second Seed = %v, %v", seeded, err)
	}
	if patients, _ := repo.ListPatients(ctx); len(patients) != 3 {
		t.Errorf("second seed changed patient count to %d", len(patients))
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
		ok   bool
	}{
		{"1", 1, true},
		{" 42 ", 42, true},
		{"3.0", 3, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"1.5", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"1e300", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseID(tt.raw, "id", "Invalid id")
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("ParseID(%q) = %d, %v; want %d", tt.raw, got, err, tt.want)
			}
			continue
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Message != "Invalid id" {
			t.Errorf("ParseID(%q) err = %v, want validation error", tt.raw, err)
		}
	}
}

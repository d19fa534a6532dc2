package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/yegors/oasis-scribe/internal/ai"
	"github.com/yegors/oasis-scribe/internal/audio"
	"github.com/yegors/oasis-scribe/internal/config"
	"github.com/yegors/oasis-scribe/internal/metrics"
	"github.com/yegors/oasis-scribe/internal/notes"
	"github.com/yegors/oasis-scribe/internal/storage/sqlite"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

type testServer struct {
	server  *httptest.Server
	uploads *audio.UploadDir
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	log := logger.NewNop()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Server.PublicBaseURL = "http://scribe.test"
	cfg.Server.UploadDir = filepath.Join(t.TempDir(), "uploads")
	cfg.Server.UploadMaxBytes = 1024
	if mutate != nil {
		mutate(cfg)
	}

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "scribe.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := sqlite.NewStore(db, log)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := notes.Seed(ctx, repo); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	uploads, err := audio.NewUploadDir(cfg.Server.UploadDir)
	if err != nil {
		t.Fatalf("NewUploadDir: %v", err)
	}
	store, err := audio.NewStore(cfg.ResolveStorage(), uploads, log)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	collector := metrics.NewCollector("scribe")
	pipeline := ai.NewPipeline(nil, collector, log)
	service := notes.NewService(repo, pipeline, store, collector, log)
	router := NewRouter(service, uploads, collector, cfg, log)

	srv := httptest.NewServer(router.Routes())
	t.Cleanup(srv.Close)
	return &testServer{server: srv, uploads: uploads, metrics: collector}
}

type part struct {
	field, filename, contentType, body string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			if err := mw.WriteField(p.field, p.body); err != nil {
				t.Fatal(err)
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, p.body)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) postNote(t *testing.T, parts ...part) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, parts...)
	resp, err := http.Post(ts.server.URL+"/notes", contentType, body)
	if err != nil {
		t.Fatalf("POST /notes: %v", err)
	}
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, contains string) {
	t.Helper()
	var body ErrorResponse
	decode(t, resp, &body)
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d (error %q)", resp.StatusCode, status, body.Error)
	}
	if !strings.Contains(body.Error, contains) {
		t.Errorf("error = %q, want it to mention %q", body.Error, contains)
	}
}

func uploadCount(t *testing.T, ts *testServer) int {
	t.Helper()
	entries, err := os.ReadDir(ts.uploads.Path())
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func voice(name string) part {
	return part{field: "audio", filename: name, contentType: "audio/mpeg", body: "ID3 fake audio"}
}

func TestListPatients(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.get(t, "/patients")
	var patients []notes.Patient
	decode(t, resp, &patients)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(patients) != 3 || patients[0].ID != 1 || patients[0].Name != "John Doe" {
		t.Fatalf("patients = %+v", patients)
	}
	for i := 1; i < len(patients); i++ {
		if patients[i].ID <= patients[i-1].ID {
			t.Errorf("patients not ordered by id: %+v", patients)
		}
	}
}

func TestCreateNote(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.postNote(t, part{field: "patientId", body: "2"}, voice("morning visit.mp3"))
	var raw map[string]any
	decode(t, resp, &raw)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %v", resp.StatusCode, raw)
	}
	for _, field := range []string{"oasisM1800", "oasisM1810", "oasisM1820", "oasisM1830", "oasisM1840", "oasisM1850", "oasisM1860"} {
		if raw[field] != "0" {
			t.Errorf("%s = %v, want \"0\"", field, raw[field])
		}
	}

	url, _ := raw["audioUrl"].(string)
	key, _ := raw["audioKey"].(string)
	if !strings.HasSuffix(key, "_morning_visit.mp3") {
		t.Errorf("audioKey = %q", key)
	}
	if url != "http://scribe.test/uploads/"+key {
		t.Errorf("audioUrl = %q", url)
	}
	if transcript, _ := raw["transcription"].(string); !strings.Contains(transcript, "morning_visit.mp3") {
		t.Errorf("transcription = %q", transcript)
	}
	if patient, _ := raw["patient"].(map[string]any); patient["name"] != "Jane Smith" {
		t.Errorf("patient = %v", raw["patient"])
	}

	// Local mode keeps the upload and serves it
	served := ts.get(t, "/uploads/"+key)
	body, _ := io.ReadAll(served.Body)
	served.Body.Close()
	if served.StatusCode != http.StatusOK || string(body) != "ID3 fake audio" {
		t.Errorf("GET /uploads/%s = %d %q", key, served.StatusCode, body)
	}
}

func TestCreateNoteValidation(t *testing.T) {
	tests := []struct {
		name     string
		parts    []part
		status   int
		contains string
	}{
		{"missing audio", []part{{field: "patientId", body: "1"}}, http.StatusBadRequest, "Audio file is required"},
		{"missing patient id", []part{voice("a.mp3")}, http.StatusBadRequest, "patientId"},
		{"non-numeric patient id", []part{{field: "patientId", body: "abc"}, voice("a.mp3")}, http.StatusBadRequest, "patientId"},
		{"negative patient id", []part{{field: "patientId", body: "-2"}, voice("a.mp3")}, http.StatusBadRequest, "patientId"},
		{"fractional patient id", []part{{field: "patientId", body: "1.5"}, voice("a.mp3")}, http.StatusBadRequest, "patientId"},
		{"unknown patient", []part{{field: "patientId", body: "999"}, voice("a.mp3")}, http.StatusNotFound, "Patient not found"},
		{"wrong mime type", []part{{field: "patientId", body: "1"}, {field: "audio", filename: "notes.txt", contentType: "text/plain", body: "hi"}}, http.StatusBadRequest, "Invalid audio file type"},
		{"oversize", []part{{field: "patientId", body: "1"}, {field: "audio", filename: "big.wav", contentType: "audio/wav", body: strings.Repeat("x", 4096)}}, http.StatusBadRequest, "Audio file too large"},
		{"duplicate audio", []part{{field: "patientId", body: "1"}, voice("a.mp3"), voice("b.mp3")}, http.StatusBadRequest, "audio sent more than once"},
		{"unexpected file field", []part{{field: "patientId", body: "1"}, voice("a.mp3"), {field: "photo", filename: "x.png", contentType: "image/png", body: "x"}}, http.StatusBadRequest, "Unexpected field: photo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			expectError(t, ts.postNote(t, tt.parts...), tt.status, tt.contains)

			if n := uploadCount(t, ts); n != 0 {
				t.Errorf("rejected request left %d file(s) in the upload directory", n)
			}

			var list []map[string]any
			decode(t, ts.get(t, "/notes"), &list)
			if len(list) != 0 {
				t.Errorf("rejected request created %d note(s)", len(list))
			}
		})
	}
}

func TestGetNoteErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	expectError(t, ts.get(t, "/notes/abc"), http.StatusBadRequest, "Invalid id")
	expectError(t, ts.get(t, "/notes/0"), http.StatusBadRequest, "Invalid id")
	expectError(t, ts.get(t, "/notes/2.5"), http.StatusBadRequest, "Invalid id")
	expectError(t, ts.get(t, "/notes/12345"), http.StatusNotFound, "Note not found")
}

func TestNotesEndToEnd(t *testing.T) {
	ts := newTestServer(t, nil)

	first := ts.postNote(t, part{field: "patientId", body: "1"}, voice("first.mp3"))
	var created1 notes.NoteDetail
	decode(t, first, &created1)

	// createdAt has millisecond resolution
	time.Sleep(5 * time.Millisecond)

	second := ts.postNote(t, part{field: "patientId", body: "3"}, voice("second.mp3"))
	var created2 notes.NoteDetail
	decode(t, second, &created2)

	if first.StatusCode != http.StatusCreated || second.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, %d", first.StatusCode, second.StatusCode)
	}

	resp := ts.get(t, "/notes")
	var list []map[string]any
	decode(t, resp, &list)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if int64(list[0]["id"].(float64)) != created2.ID || int64(list[1]["id"].(float64)) != created1.ID {
		t.Errorf("list not newest first: %v", list)
	}
	for _, item := range list {
		if _, ok := item["transcription"]; ok {
			t.Error("list items must not include the transcript")
		}
		if _, ok := item["oasisRaw"]; ok {
			t.Error("list items must not include the raw extraction")
		}
	}

	for _, want := range []notes.NoteDetail{created1, created2} {
		var got map[string]any
		decode(t, ts.get(t, "/notes/"+strconv.FormatInt(want.ID, 10)), &got)

		if _, ok := got["transcription"]; !ok {
			t.Error("detail must include the transcript")
		}
		patient := got["patient"].(map[string]any)
		if int64(patient["id"].(float64)) != want.PatientID {
			t.Errorf("note %d patient = %v, want %d", want.ID, patient, want.PatientID)
		}
		if got["oasisM1860"] != "0" {
			t.Errorf("oasisM1860 = %v", got["oasisM1860"])
		}
		raw, _ := got["oasisRaw"].(map[string]any)
		if raw["M1800"] != "0" || len(raw) != 7 {
			t.Errorf("oasisRaw = %v", raw)
		}
		if url, _ := got["audioUrl"].(string); url == "" {
			t.Error("audioUrl must be a non-empty string")
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	var body HealthResponse
	resp := ts.get(t, "/healthz")
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v", resp.StatusCode, body)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Auth.Username = "nurse"
		c.Auth.Password = "secret"
	})

	resp := ts.get(t, "/patients")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != `Basic realm="Lime AI Scribe"` {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	for _, creds := range [][2]string{{"nurse", "wrong"}, {"doctor", "secret"}, {"nurse", "secret"}} {
		req, _ := http.NewRequest(http.MethodGet, ts.server.URL+"/patients", nil)
		req.SetBasicAuth(creds[0], creds[1])
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		want := http.StatusUnauthorized
		if creds == [2]string{"nurse", "secret"} {
			want = http.StatusOK
		}
		if resp.StatusCode != want {
			t.Errorf("%v: status = %d, want %d", creds, resp.StatusCode, want)
		}
	}
}

func TestHeadersAndCORS(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Server.CORSAllowedOrigins = []string{"https://app.example"}
	})

	req, _ := http.NewRequest(http.MethodGet, ts.server.URL+"/patients", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("Cross-Origin-Resource-Policy"); got != "cross-origin" {
		t.Errorf("Cross-Origin-Resource-Policy = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.server.URL+"/patients", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin got Allow-Origin %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.postNote(t, part{field: "patientId", body: "1"}, voice("a.mp3"))
	resp.Body.Close()

	resp = ts.get(t, "/metrics")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	for _, want := range []string{
		`scribe_notes_ingested_total{backend="local"} 1`,
		`scribe_ai_fallbacks_total{step="transcribe"} 1`,
		`scribe_http_requests_total{method="POST",route="/notes",status="201"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

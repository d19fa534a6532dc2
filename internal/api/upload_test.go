package api

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yegors/oasis-scribe/internal/audio"
	"github.com/yegors/oasis-scribe/pkg/logger"
)

func TestReleaseUploadLogsFailedDelete(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	uploads, err := audio.NewUploadDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewUploadDir: %v", err)
	}
	upload, err := uploads.Save("visit one.mp3", "audio/mpeg", strings.NewReader("voice"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A non-empty directory at the slot path cannot be removed
	if err := os.Remove(upload.Path()); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(upload.Path(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(upload.Path(), "keep"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	h := NewHandler(nil, uploads, 1024, log)
	h.releaseUpload(&uploadForm{PatientID: "abc", Audio: upload}, "invalid patientId")

	out := buf.String()
	for _, want := range []string{"Failed to remove rejected upload", upload.Name(), "visit one.mp3", "invalid patientId"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
	if !upload.Released() {
		t.Error("upload not marked released")
	}
}

func TestReleaseUploadWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(logger.Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	h := NewHandler(nil, nil, 1024, log)
	h.releaseUpload(nil, "none")
	h.releaseUpload(&uploadForm{PatientID: "1"}, "none")

	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %s", buf.String())
	}
}

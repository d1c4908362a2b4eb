package models

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestStorePath(t *testing.T) {
	s := NewStore("/models", "")

	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"base.en", "/models/ggml-base.en.bin", false},
		{"large-v3-turbo", "/models/ggml-large-v3-turbo.bin", false},
		{"/opt/whisper/custom.bin", "/opt/whisper/custom.bin", false},
		{"gpt-5", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := s.Path(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Path(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnknownModel) {
				t.Errorf("Path(%q) error = %v, want ErrUnknownModel", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("Path(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestStoreEnsureDownloads(t *testing.T) {
	body := strings.Repeat("x", 4096)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/ggml-tiny.en.bin" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewStore(dir, srv.URL)

	var lastWritten, lastTotal int64
	path, err := s.Ensure(context.Background(), "tiny.en", func(written, total int64) {
		lastWritten, lastTotal = written, total
	})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if want := filepath.Join(dir, "ggml-tiny.en.bin"); path != want {
		t.Errorf("Ensure() path = %q, want %q", path, want)
	}
	if lastWritten != 4096 || lastTotal != 4096 {
		t.Errorf("last progress = %d/%d, want 4096/4096", lastWritten, lastTotal)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading model: %v", err)
	}
	if string(got) != body {
		t.Error("downloaded content mismatch")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after download")
	}
	if !s.Exists("tiny.en") {
		t.Error("Exists() should be true after download")
	}

	// A second Ensure does not hit the network.
	if _, err := s.Ensure(context.Background(), "tiny.en", nil); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1", n)
	}
}

func TestStoreEnsureHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewStore(dir, srv.URL)
	if _, err := s.Ensure(context.Background(), "base.en", nil); err == nil {
		t.Fatal("Ensure() should fail on HTTP 403")
	}
	if s.Exists("base.en") {
		t.Error("failed download should not leave a model file")
	}
}

func TestStoreEnsureMissingLocalFile(t *testing.T) {
	s := NewStore(t.TempDir(), "http://127.0.0.1:1")
	if _, err := s.Ensure(context.Background(), filepath.Join(t.TempDir(), "missing.bin"), nil); err == nil {
		t.Error("Ensure() should fail for a missing local model file")
	}
}

func TestStoreEnsureCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStore(t.TempDir(), srv.URL).Ensure(ctx, "tiny", nil); err == nil {
		t.Error("Ensure() should fail with a cancelled context")
	}
}

func TestKnownIsACopy(t *testing.T) {
	k := Known()
	k[0] = "mutated"
	if Known()[0] == "mutated" {
		t.Error("Known() should return a copy")
	}
}

// Package models resolves speech model identifiers to files on disk and
// downloads missing ones.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultBaseURL hosts the ggml whisper.cpp model files.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// ErrUnknownModel is returned for ids that are neither a known model nor a
// path to an existing file.
var ErrUnknownModel = errors.New("models: unknown model")

// knownModels are the whisper.cpp ggml ids the store can download.
var knownModels = []string{
	"tiny", "tiny.en",
	"base", "base.en",
	"small", "small.en",
	"medium", "medium.en",
	"large-v3", "large-v3-turbo",
}

// Known returns the downloadable model ids.
func Known() []string { return slices.Clone(knownModels) }

// Progress receives the number of bytes written so far and the expected
// total (-1 when the server did not say).
type Progress func(written, total int64)

// Store maps model ids to files under a directory.
type Store struct {
	dir     string
	baseURL string
	client  *http.Client
}

// NewStore creates a store rooted at dir. An empty baseURL uses
// DefaultBaseURL.
func NewStore(dir, baseURL string) *Store {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Store{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), client: http.DefaultClient}
}

// Dir returns the directory models are stored in.
func (s *Store) Dir() string { return s.dir }

// Path returns where the model lives. An absolute path or an existing file
// path is returned unchanged.
func (s *Store) Path(id string) (string, error) {
	if filepath.IsAbs(id) || strings.HasSuffix(id, ".bin") {
		return id, nil
	}
	if !slices.Contains(knownModels, id) {
		return "", fmt.Errorf("%w %q (known: %s)", ErrUnknownModel, id, strings.Join(knownModels, ", "))
	}
	return filepath.Join(s.dir, fileName(id)), nil
}

// Exists reports whether the model file is present and non-empty.
func (s *Store) Exists(id string) bool {
	path, err := s.Path(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// Ensure returns the model path, downloading the file first if needed.
func (s *Store) Ensure(ctx context.Context, id string, onProgress Progress) (string, error) {
	path, err := s.Path(id)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return path, nil
	}
	if filepath.IsAbs(id) || strings.HasSuffix(id, ".bin") {
		return "", fmt.Errorf("models: model file not found: %s", path)
	}
	if err := s.download(ctx, id, path, onProgress); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) download(ctx context.Context, id, destPath string, onProgress Progress) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating models dir: %w", err)
	}

	url := s.baseURL + "/" + fileName(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("models: building request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("models: downloading %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("models: download %s failed: HTTP %d", id, resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	pw := &progressWriter{writer: f, total: resp.ContentLength, onProgress: onProgress}
	_, err = io.Copy(pw, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("models: writing %s: %w", id, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving model file: %w", err)
	}
	return nil
}

func fileName(id string) string { return "ggml-" + id + ".bin" }

// progressWriter wraps an io.Writer and reports download progress.
type progressWriter struct {
	writer     io.Writer
	total      int64
	written    int64
	onProgress Progress
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.onProgress != nil {
		pw.onProgress(pw.written, pw.total)
	}
	return n, err
}

// PrintProgress returns a Progress that renders a single updating line to
// stdout, for the command-line download flow.
func PrintProgress(label string) Progress {
	return func(written, total int64) {
		if total > 0 {
			pct := float64(written) / float64(total) * 100
			fmt.Printf("\r  %s: %.1f MB / %.1f MB (%.0f%%)",
				label,
				float64(written)/(1024*1024),
				float64(total)/(1024*1024),
				pct)
		} else {
			fmt.Printf("\r  %s: %.1f MB downloaded",
				label,
				float64(written)/(1024*1024))
		}
	}
}

// Package history records an audit trail of dictations. Records are queued
// and written by a background worker so persistence never delays delivery.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/voxpipe/internal/filter"
)

// Event is the audit record of one pipeline run.
type Event struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	App      string `json:"app"`
	Category string `json:"category"`
	Kind     string `json:"kind"`    // dictation, snippet, command
	Path     string `json:"path"`    // fast, cleanup, fallback, snippet, command
	Outcome  string `json:"outcome"` // delivered, failed, no_audio
	Error    string `json:"error,omitempty"`

	Language  string `json:"language,omitempty"`
	STTModel  string `json:"stt_model,omitempty"`
	LLMModel  string `json:"llm_model,omitempty"`
	Raw       string `json:"raw"`
	Corrected string `json:"corrected"`
	Final     string `json:"final"`
	Rejection string `json:"rejection,omitempty"`

	// EditRate is the word edit rate from Corrected to Final. The recorder
	// fills it in when it is zero.
	EditRate float64 `json:"edit_rate"`

	AudioSeconds float64       `json:"audio_seconds"`
	Transcribe   time.Duration `json:"transcribe_ns"`
	Cleanup      time.Duration `json:"cleanup_ns"`
	Total        time.Duration `json:"total_ns"`
}

// Sink persists or forwards events.
type Sink interface {
	Write(ctx context.Context, e Event) error
	Close() error
}

const (
	defaultQueueSize = 64
	writeTimeout     = 5 * time.Second
)

// Recorder fans events out to sinks from a single worker goroutine.
type Recorder struct {
	sinks []Sink
	log   *slog.Logger
	queue chan Event

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewRecorder starts a recorder writing to sinks. A nil logger uses
// slog.Default().
func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		sinks: sinks,
		log:   log,
		queue: make(chan Event, defaultQueueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues e. It never blocks: when the queue is full or the recorder
// is closed the event is dropped and logged.
func (r *Recorder) Record(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.Warn("history queue full, dropping event", "id", e.ID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		if e.EditRate == 0 && e.Corrected != "" && e.Final != "" {
			e.EditRate = filter.EditRate(e.Corrected, e.Final).Rate
		}
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := s.Write(ctx, e); err != nil {
				r.log.Warn("history write failed", "id", e.ID, "error", err)
			}
			cancel()
		}
	}
}

// Close drains the queue, waiting at most until ctx is done, and closes the
// sinks.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

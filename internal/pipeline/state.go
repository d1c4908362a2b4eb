package pipeline

import (
	"errors"
	"time"

	"github.com/chaz8081/voxpipe/internal/appctx"
)

// State is the recording state shown to the user.
type State int

const (
	Idle State = iota
	Recording
	Processing
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Processing:
		return "processing"
	default:
		return "idle"
	}
}

var (
	// ErrBusy is returned by StartRecording while a start is in flight or a
	// run is active.
	ErrBusy = errors.New("pipeline: busy")
	// ErrPermissionDenied is returned when microphone access is refused.
	ErrPermissionDenied = errors.New("pipeline: microphone permission denied")
	// ErrNoAudio is returned when there is nothing to transcribe: stop was
	// called without an active recording, the capture was empty or too
	// short, or the transcript was empty after artifact stripping.
	ErrNoAudio = errors.New("pipeline: no audio")
	// ErrStartAborted is returned by StartRecording when a stop arrived
	// while models were loading.
	ErrStartAborted = errors.New("pipeline: start aborted by stop")
	// ErrCancelled is returned when the run was cancelled before delivery.
	ErrCancelled = errors.New("pipeline: cancelled")
	// ErrTranscriptionFailed wraps speech engine failures.
	ErrTranscriptionFailed = errors.New("pipeline: transcription failed")
	// ErrCommandFailed wraps language-model failures on spoken commands.
	ErrCommandFailed = errors.New("pipeline: command failed")
	// ErrCaptureFailed is reported through Observer.OnError when a broken
	// capture session could not be rebuilt.
	ErrCaptureFailed = errors.New("pipeline: capture failed")
)

// Run kinds.
const (
	KindDictation = "dictation"
	KindSnippet   = "snippet"
	KindCommand   = "command"
)

// Cleanup paths.
const (
	PathFast     = "fast"
	PathCleanup  = "cleanup"
	PathFallback = "fallback"
	PathSnippet  = "snippet"
	PathCommand  = "command"
)

// Run is one recording-to-delivery cycle.
type Run struct {
	ID      string
	Started time.Time
	Target  appctx.Snapshot // captured when recording started

	Kind      string
	Path      string
	Language  string
	Raw       string
	Corrected string
	Final     string
	Rejection string

	AudioSeconds float64
	Marks        map[string]time.Duration
}

// Result is what a successful StopRecordingAndProcess delivered.
type Result struct {
	RunID  string
	Kind   string
	Path   string
	Text   string
	Target appctx.Snapshot
	// Copied is set when pasting failed and the text was left on the
	// clipboard instead.
	Copied bool
}

// Package engine owns the speech-to-text and language-model instances.
//
// The [Executor] is the only holder of loaded engines. Every operation on an
// engine is serialized per engine, while the two engines load, warm up and
// run independently of each other.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrModelNotLoaded is returned when an operation needs an engine that is
	// absent.
	ErrModelNotLoaded = errors.New("engine: model not loaded")

	// ErrStreamingUnsupported is returned by StartPreview when the loaded
	// speech engine cannot produce incremental results.
	ErrStreamingUnsupported = errors.New("engine: streaming not supported")
)

// Kind identifies one of the two engines.
type Kind string

const (
	KindSTT Kind = "stt"
	KindLLM Kind = "llm"
)

// Capabilities are optional features an engine declares.
type Capabilities struct {
	Streaming bool
}

// Handle is a read-only snapshot of an engine slot.
type Handle struct {
	Loaded       bool
	ModelID      string
	Capabilities Capabilities
}

// Transcript is the result of a batch transcription.
type Transcript struct {
	Text     string
	Language string // detected when the request asked for "auto"
}

// Prompt is the opaque instruction payload built by the prompt layer and
// passed through to the language model unchanged.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// LoadProgress receives load progress in [0, 1].
type LoadProgress func(fraction float64)

// STT is a speech-to-text engine.
type STT interface {
	Load(ctx context.Context, onProgress LoadProgress) error
	Unload() error
	Transcribe(ctx context.Context, samples []float32, language string) (Transcript, error)
	Warmup(ctx context.Context) error
	Capabilities() Capabilities
}

// LLM is a language-model engine.
type LLM interface {
	Load(ctx context.Context, onProgress LoadProgress) error
	Unload() error
	Cleanup(ctx context.Context, text string, prompt Prompt) (string, error)
	Warmup(ctx context.Context) error
}

// STTFactory builds an unloaded speech engine for a model id.
type STTFactory func(modelID string) (STT, error)

// LLMFactory builds an unloaded language-model engine for a model id.
type LLMFactory func(modelID string) (LLM, error)

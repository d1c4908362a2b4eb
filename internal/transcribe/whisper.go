// Package transcribe provides the whisper.cpp speech-to-text engine.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/chaz8081/voxpipe/internal/engine"
	"github.com/chaz8081/voxpipe/internal/models"
)

// downloadShare is the part of load progress attributed to fetching the
// model file; the rest is loading it.
const downloadShare = 0.9

// Whisper is an engine.STT backed by a whisper.cpp ggml model. The executor
// serializes calls, so Whisper does no locking of its own.
type Whisper struct {
	modelID string
	store   *models.Store
	model   whisper.Model
}

// NewWhisper returns an unloaded engine for modelID, resolved through store.
func NewWhisper(modelID string, store *models.Store) *Whisper {
	return &Whisper{modelID: modelID, store: store}
}

// Factory adapts NewWhisper to engine.STTFactory.
func Factory(store *models.Store) engine.STTFactory {
	return func(modelID string) (engine.STT, error) {
		return NewWhisper(modelID, store), nil
	}
}

// Load fetches the model file if needed and loads it.
func (w *Whisper) Load(ctx context.Context, onProgress engine.LoadProgress) error {
	report := func(f float64) {
		if onProgress != nil {
			onProgress(f)
		}
	}

	path, err := w.store.Ensure(ctx, w.modelID, func(written, total int64) {
		if total > 0 {
			report(downloadShare * float64(written) / float64(total))
		}
	})
	if err != nil {
		return fmt.Errorf("transcribe: resolve model %q: %w", w.modelID, err)
	}

	model, err := whisper.New(path)
	if err != nil {
		return fmt.Errorf("transcribe: load whisper model %q: %w", path, err)
	}
	w.model = model
	report(1)
	return nil
}

// Unload releases the whisper model resources.
func (w *Whisper) Unload() error {
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}

// Transcribe converts mono 16 kHz samples to text. language is a whisper
// language code or "auto"; for "auto" the detected language is returned.
func (w *Whisper) Transcribe(ctx context.Context, samples []float32, language string) (engine.Transcript, error) {
	if w.model == nil {
		return engine.Transcript{}, engine.ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return engine.Transcript{}, err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return engine.Transcript{}, fmt.Errorf("transcribe: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			return engine.Transcript{}, fmt.Errorf("transcribe: set language %q: %w", language, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return engine.Transcript{}, fmt.Errorf("transcribe: process: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return engine.Transcript{}, fmt.Errorf("transcribe: next segment: %w", err)
		}
		segments = append(segments, strings.TrimSpace(seg.Text))
	}

	lang := language
	if language == "auto" {
		lang = wctx.DetectedLanguage()
	}
	return engine.Transcript{
		Text:     strings.TrimSpace(strings.Join(segments, " ")),
		Language: lang,
	}, nil
}

// Warmup transcribes half a second of silence so the weights stay resident.
func (w *Whisper) Warmup(ctx context.Context) error {
	_, err := w.Transcribe(ctx, make([]float32, 8000), "")
	return err
}

// Capabilities reports streaming support: whisper re-transcribes a growing
// window, which is enough for a live preview.
func (w *Whisper) Capabilities() engine.Capabilities {
	return engine.Capabilities{Streaming: true}
}

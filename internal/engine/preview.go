package engine

import (
	"context"
	"sync"
	"time"
)

// minPreviewSamples is half a second at 16 kHz; shorter windows produce
// nothing useful.
const minPreviewSamples = 8000

// StartPreview periodically re-transcribes the audio returned by source and
// passes each result to onPartial. The preview shares the speech engine with
// batch transcription, so a tick that is still running when stop is called
// finishes first. Results are only ever a preview. It returns
// ErrStreamingUnsupported when the loaded engine cannot stream.
func (e *Executor) StartPreview(ctx context.Context, source func() []float32, interval time.Duration, language string, onPartial func(string)) (stop func(), err error) {
	h := e.STTHandle()
	if !h.Loaded {
		return nil, ErrModelNotLoaded
	}
	if !h.Capabilities.Streaming {
		return nil, ErrStreamingUnsupported
	}
	if interval <= 0 {
		interval = time.Second
	}

	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := ""
		for {
			select {
			case <-pctx.Done():
				return
			case <-ticker.C:
			}

			samples := source()
			if len(samples) < minPreviewSamples {
				continue
			}
			t, err := e.Transcribe(pctx, samples, language)
			if pctx.Err() != nil {
				return
			}
			if err != nil {
				e.log.Debug("preview transcription failed", "error", err)
				continue
			}
			if t.Text != "" && t.Text != last {
				last = t.Text
				onPartial(t.Text)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

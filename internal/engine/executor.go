package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/chaz8081/voxpipe/internal/observe"
)

// lifecycle is the part of STT and LLM the slot manages.
type lifecycle interface {
	Load(ctx context.Context, onProgress LoadProgress) error
	Unload() error
	Warmup(ctx context.Context) error
}

// slot holds one engine. mu serializes every call into the engine.
type slot[E lifecycle] struct {
	mu     sync.Mutex
	id     string
	eng    E
	loaded bool
}

func (s *slot[E]) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded && s.id == id
}

func (s *slot[E]) handle(caps func(E) Capabilities) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return Handle{}
	}
	h := Handle{Loaded: true, ModelID: s.id}
	if caps != nil {
		h.Capabilities = caps(s.eng)
	}
	return h
}

// ensure makes id the loaded model. The previous model is unloaded first; on
// failure the slot is left empty. force rebuilds the engine even when id is
// already loaded.
func (s *slot[E]) ensure(ctx context.Context, id string, force bool, build func(string) (E, error), onProgress LoadProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && s.loaded && s.id == id {
		return nil
	}
	s.unloadLocked()

	eng, err := build(id)
	if err != nil {
		return err
	}
	if err := eng.Load(ctx, onProgress); err != nil {
		return err
	}
	s.eng = eng
	s.id = id
	s.loaded = true
	return nil
}

func (s *slot[E]) unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unloadLocked()
}

func (s *slot[E]) unloadLocked() error {
	if !s.loaded {
		return nil
	}
	err := s.eng.Unload()
	var zero E
	s.eng = zero
	s.id = ""
	s.loaded = false
	return err
}

// with runs fn on the loaded engine while holding the slot.
func (s *slot[E]) with(fn func(E) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrModelNotLoaded
	}
	return fn(s.eng)
}

// Options configures an Executor.
type Options struct {
	Metrics *observe.Metrics
	Logger  *slog.Logger

	// LLMRetryAfter is how long a failed language-model load is remembered
	// before EnsureLoaded tries that model again. Default 30s.
	LLMRetryAfter time.Duration
}

// Executor is the single owner of both engines.
type Executor struct {
	newSTT STTFactory
	newLLM LLMFactory

	stt slot[STT]
	llm slot[LLM]

	loads   singleflight.Group
	metrics *observe.Metrics
	log     *slog.Logger

	retryAfter time.Duration
	failMu     sync.Mutex
	failedLLM  string
	failedAt   time.Time
}

// NewExecutor creates an executor with no engines loaded.
func NewExecutor(newSTT STTFactory, newLLM LLMFactory, opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	retry := opts.LLMRetryAfter
	if retry <= 0 {
		retry = 30 * time.Second
	}
	return &Executor{
		newSTT:     newSTT,
		newLLM:     newLLM,
		metrics:    opts.Metrics,
		log:        log,
		retryAfter: retry,
	}
}

// NeedsLoad reports whether EnsureLoaded would load anything. An empty
// llmID means cleanup is disabled.
func (e *Executor) NeedsLoad(sttID, llmID string) bool {
	if !e.stt.has(sttID) {
		return true
	}
	return e.wantLLM(llmID)
}

// wantLLM reports whether llmID should be loaded now. A model that failed
// recently is skipped until retryAfter has passed.
func (e *Executor) wantLLM(llmID string) bool {
	if llmID == "" || e.llm.has(llmID) {
		return false
	}
	e.failMu.Lock()
	defer e.failMu.Unlock()
	return e.failedLLM != llmID || time.Since(e.failedAt) >= e.retryAfter
}

func (e *Executor) setLLMFailure(llmID string, err error) {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	if err == nil {
		e.failedLLM = ""
		return
	}
	e.failedLLM = llmID
	e.failedAt = time.Now()
}

// EnsureLoaded makes sttID and llmID the loaded models, loading only the
// engines whose id changed. Both loads run in parallel. A speech-engine
// failure is returned; a language-model failure leaves that engine absent,
// is reported through onStatus and does not fail the call. Concurrent
// requests for the same model share one load. An empty llmID unloads the
// language model.
func (e *Executor) EnsureLoaded(ctx context.Context, sttID, llmID string, onProgress func(Kind, float64), onStatus func(string)) error {
	status := func(msg string) {
		if onStatus != nil {
			onStatus(msg)
		}
	}
	progress := func(k Kind) LoadProgress {
		return func(f float64) {
			if onProgress != nil {
				onProgress(k, f)
			}
		}
	}

	if llmID == "" {
		e.setLLMFailure("", nil)
		if err := e.llm.unload(); err != nil {
			e.log.Warn("unloading language model", "error", err)
		}
	}

	needSTT := !e.stt.has(sttID)
	needLLM := e.wantLLM(llmID)
	if !needSTT && !needLLM {
		return nil
	}

	// Not errgroup.WithContext: a failing speech load must not cancel the
	// language-model load.
	var g errgroup.Group

	if needSTT {
		g.Go(func() error {
			status(fmt.Sprintf("Loading speech model %s", sttID))
			_, err, _ := e.loads.Do(string(KindSTT)+":"+sttID, func() (any, error) {
				return nil, e.stt.ensure(ctx, sttID, false, e.newSTT, progress(KindSTT))
			})
			e.recordLoad(ctx, KindSTT, err)
			if err != nil {
				return fmt.Errorf("engine: load stt %q: %w", sttID, err)
			}
			e.log.Info("speech model loaded", "model", sttID)
			return nil
		})
	}

	if needLLM {
		g.Go(func() error {
			e.loadLLM(ctx, llmID, false, progress(KindLLM), status)
			return nil
		})
	}

	return g.Wait()
}

// ReloadLLM rebuilds the language-model engine for llmID even when that id
// is already loaded, so changed connection settings take effect. Like
// EnsureLoaded, a failure leaves cleanup unavailable without returning an
// error.
func (e *Executor) ReloadLLM(ctx context.Context, llmID string, onStatus func(string)) {
	if llmID == "" {
		return
	}
	e.loadLLM(ctx, llmID, true, nil, func(msg string) {
		if onStatus != nil {
			onStatus(msg)
		}
	})
}

func (e *Executor) loadLLM(ctx context.Context, llmID string, force bool, onProgress LoadProgress, status func(string)) {
	status(fmt.Sprintf("Loading cleanup model %s", llmID))
	key := string(KindLLM) + ":" + llmID
	if force {
		key += ":reload"
	}
	_, err, _ := e.loads.Do(key, func() (any, error) {
		return nil, e.llm.ensure(ctx, llmID, force, e.newLLM, onProgress)
	})
	e.recordLoad(ctx, KindLLM, err)
	e.setLLMFailure(llmID, err)
	if err != nil {
		_ = e.llm.unload()
		e.log.Warn("cleanup model unavailable, continuing without cleanup", "model", llmID, "error", err, "retry_after", e.retryAfter)
		status(fmt.Sprintf("Cleanup model %s unavailable: %v", llmID, err))
		return
	}
	e.log.Info("cleanup model loaded", "model", llmID)
}

func (e *Executor) recordLoad(ctx context.Context, k Kind, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordModelLoad(ctx, string(k), status)
}

// Transcribe runs batch transcription on the loaded speech engine.
func (e *Executor) Transcribe(ctx context.Context, samples []float32, language string) (Transcript, error) {
	var out Transcript
	err := e.stt.with(func(s STT) error {
		var err error
		out, err = s.Transcribe(ctx, samples, language)
		return err
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("engine: transcribe: %w", err)
	}
	return out, nil
}

// Cleanup runs the language model over text with the given prompt.
func (e *Executor) Cleanup(ctx context.Context, text string, prompt Prompt) (string, error) {
	var out string
	err := e.llm.with(func(l LLM) error {
		var err error
		out, err = l.Cleanup(ctx, text, prompt)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("engine: cleanup: %w", err)
	}
	return out, nil
}

// Warmup runs a trivial inference on every loaded engine, both at once.
// Absent engines are skipped.
func (e *Executor) Warmup(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		return ignoreNotLoaded(e.stt.with(func(s STT) error { return s.Warmup(ctx) }))
	})
	g.Go(func() error {
		return ignoreNotLoaded(e.llm.with(func(l LLM) error { return l.Warmup(ctx) }))
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine: warmup: %w", err)
	}
	return nil
}

func ignoreNotLoaded(err error) error {
	if errors.Is(err, ErrModelNotLoaded) {
		return nil
	}
	return err
}

// UnloadAll releases both engines.
func (e *Executor) UnloadAll() error {
	return errors.Join(e.stt.unload(), e.llm.unload())
}

// STTHandle returns a snapshot of the speech engine slot.
func (e *Executor) STTHandle() Handle {
	return e.stt.handle(func(s STT) Capabilities { return s.Capabilities() })
}

// LLMHandle returns a snapshot of the language-model slot.
func (e *Executor) LLMHandle() Handle {
	return e.llm.handle(nil)
}

// Package pipeline sequences a dictation: capture, transcription,
// correction, cleanup or fast path, validation and delivery.
//
// The [Orchestrator] is the single owner of the recording state. Its
// collaborators are injected through [Deps] so each can be replaced in
// tests.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/voxpipe/internal/appctx"
	"github.com/chaz8081/voxpipe/internal/command"
	"github.com/chaz8081/voxpipe/internal/config"
	"github.com/chaz8081/voxpipe/internal/desktop"
	"github.com/chaz8081/voxpipe/internal/engine"
	"github.com/chaz8081/voxpipe/internal/history"
	"github.com/chaz8081/voxpipe/internal/observe"
	"github.com/chaz8081/voxpipe/internal/prompt"
)

// Capture is the audio capture engine.
type Capture interface {
	Start(ctx context.Context, deviceHint string, onLevel func(float32), onFailure func(error)) error
	Recreate() error
	Stop() ([]float32, error)
	Cancel()
	Tail(d time.Duration) []float32
	SampleRate() uint32
}

// Models is the model lifecycle executor.
type Models interface {
	NeedsLoad(sttID, llmID string) bool
	EnsureLoaded(ctx context.Context, sttID, llmID string, onProgress func(engine.Kind, float64), onStatus func(string)) error
	ReloadLLM(ctx context.Context, llmID string, onStatus func(string))
	Transcribe(ctx context.Context, samples []float32, language string) (engine.Transcript, error)
	Cleanup(ctx context.Context, text string, p engine.Prompt) (string, error)
	Warmup(ctx context.Context) error
	StartPreview(ctx context.Context, source func() []float32, interval time.Duration, language string, onPartial func(string)) (func(), error)
	STTHandle() engine.Handle
	LLMHandle() engine.Handle
}

// Permission is the microphone permission provider.
type Permission interface {
	HasMicrophonePermission() bool
	RequestMicrophonePermission(ctx context.Context) (bool, error)
}

// PromptBuilder builds the opaque instructions for the language model.
type PromptBuilder interface {
	Build(raw string, c prompt.Context, modelID string) engine.Prompt
	BuildCommand(cmd command.Command, selection string, c prompt.Context) engine.Prompt
	Markers() []string
}

// Dictionary holds the personal vocabulary and snippets.
type Dictionary interface {
	ApplyCorrections(text, appName string) string
	MatchSnippet(text string) (string, bool)
}

// ContextDetector reports the destination application.
type ContextDetector interface {
	Detect() appctx.Snapshot
	SelectedText(ctx context.Context) (string, bool)
}

// Deliverer puts the final text into the target application.
type Deliverer interface {
	Paste(ctx context.Context, text string, target desktop.App) error
	CopyToClipboard(text string) error
}

// Auditor receives one event per finished run. Record must not block.
type Auditor interface {
	Record(e history.Event)
}

// Settings returns the current configuration snapshot.
type Settings interface {
	Current() *config.Config
}

// Observer receives UI-facing notifications. Callbacks may be nil. They are
// called synchronously and must not call back into the Orchestrator.
type Observer struct {
	OnState   func(State)
	OnLevel   func(float32)
	OnStatus  func(string)
	OnPartial func(string)
	OnError   func(error)
}

// Deps are the collaborators of an Orchestrator. Audit and Metrics may be
// nil.
type Deps struct {
	Capture    Capture
	Models     Models
	Permission Permission
	Prompts    PromptBuilder
	Dictionary Dictionary
	Context    ContextDetector
	Deliver    Deliverer
	Audit      Auditor
	Settings   Settings
	Metrics    *observe.Metrics
	Logger     *slog.Logger

	// DebugWAV, when set, receives every finished capture off the
	// processing path.
	DebugWAV func(samples []float32, rate uint32)
}

// Orchestrator drives the Idle -> Recording -> Processing -> Idle cycle.
// mu guards state only; capture and engine calls are made without it.
// capMu orders Capture.Start against Capture.Cancel so a late cancel never
// tears down the session of a newer start. Lock order is capMu, then mu.
type Orchestrator struct {
	d   Deps
	obs Observer
	log *slog.Logger

	capMu sync.Mutex

	mu          sync.Mutex
	state       State
	starting    bool
	pendingStop bool
	gen         uint64 // bumped by every start and cancel
	run         *Run
	stopPreview func()
	earlyFail   error // capture failure seen before the run was registered
}

// New creates an Orchestrator in the Idle state.
func New(d Deps, obs Observer) *Orchestrator {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{d: d, obs: obs, log: log}
}

// State returns the current recording state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setStateLocked(s State) {
	if s == o.state {
		return
	}
	prev := o.state
	o.state = s
	if m := o.d.Metrics; m != nil {
		switch {
		case s == Recording:
			m.Recording.Add(context.Background(), 1)
		case prev == Recording:
			m.Recording.Add(context.Background(), -1)
		}
	}
	if o.obs.OnState != nil {
		o.obs.OnState(s)
	}
}

func (o *Orchestrator) status(msg string) {
	if o.obs.OnStatus != nil {
		o.obs.OnStatus(msg)
	}
}

func (o *Orchestrator) reportError(err error) {
	if o.obs.OnError != nil {
		o.obs.OnError(err)
	}
}

// llmModel returns the configured cleanup model, or "" when cleanup is off.
func llmModel(cfg *config.Config) string {
	if !cfg.Cleanup.Enabled {
		return ""
	}
	return cfg.Cleanup.Model
}

// Preload loads the configured models. It is called at startup and after a
// settings change; a StartRecording issued meanwhile waits for the same
// load instead of starting another.
func (o *Orchestrator) Preload(ctx context.Context) error {
	cfg := o.d.Settings.Current()
	return o.d.Models.EnsureLoaded(ctx, cfg.Transcribe.Model, llmModel(cfg), nil, o.status)
}

// ReloadCleanup rebuilds the language model so changed connection settings
// (provider, endpoint, key, timeout) take effect even when the model id is
// unchanged, then loads anything else the settings name.
func (o *Orchestrator) ReloadCleanup(ctx context.Context) error {
	cfg := o.d.Settings.Current()
	o.d.Models.ReloadLLM(ctx, llmModel(cfg), o.status)
	return o.Preload(ctx)
}

// StartRecording checks permission, snapshots the destination, makes sure
// the models are loaded and begins capture. A second call while a start is
// in flight or a run is active returns ErrBusy. If StopRecordingAndProcess
// is called while models are still loading, the start returns
// ErrStartAborted without capturing.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	o.mu.Lock()
	if o.starting || o.state != Idle {
		o.mu.Unlock()
		return ErrBusy
	}
	o.starting = true
	o.pendingStop = false
	o.earlyFail = nil
	o.gen++
	gen := o.gen
	o.mu.Unlock()

	started := false
	defer func() {
		if started {
			return
		}
		o.mu.Lock()
		if o.gen == gen {
			o.starting = false
			o.pendingStop = false
			o.earlyFail = nil
			o.setStateLocked(Idle)
		}
		o.mu.Unlock()
	}()

	cfg := o.d.Settings.Current()

	if !o.d.Permission.HasMicrophonePermission() {
		granted, err := o.d.Permission.RequestMicrophonePermission(ctx)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
			o.reportError(err)
			return err
		}
		if !granted {
			o.reportError(ErrPermissionDenied)
			return ErrPermissionDenied
		}
	}

	// Taken before anything slow: by the time models are loaded and audio
	// is processed, our own window may be frontmost.
	target := o.d.Context.Detect()

	sttID, llmID := cfg.Transcribe.Model, llmModel(cfg)
	if o.d.Models.NeedsLoad(sttID, llmID) {
		o.status("Loading models...")
		if err := o.d.Models.EnsureLoaded(ctx, sttID, llmID, nil, o.status); err != nil {
			o.reportError(err)
			return err
		}
	}

	if err := o.startAllowed(gen); err != nil {
		return err
	}

	run, err := o.openCapture(ctx, cfg, gen, target)
	if err != nil {
		return err
	}
	started = true
	o.log.Info("recording started", "run_id", run.ID, "app", target.App.Name, "category", target.Category)

	if cfg.Transcribe.Streaming && o.d.Models.STTHandle().Capabilities.Streaming && o.obs.OnPartial != nil {
		o.startPreview(ctx, cfg, run)
	}
	return nil
}

// openCapture starts the device and registers the run, unless a cancel or
// stop arrived while the device was opening.
func (o *Orchestrator) openCapture(ctx context.Context, cfg *config.Config, gen uint64, target appctx.Snapshot) (*Run, error) {
	o.capMu.Lock()
	defer o.capMu.Unlock()

	onFailure := func(err error) { o.handleCaptureFailure(gen, err) }
	if err := o.d.Capture.Start(ctx, cfg.Audio.Device, o.obs.OnLevel, onFailure); err != nil {
		o.reportError(err)
		return nil, fmt.Errorf("pipeline: start capture: %w", err)
	}

	o.mu.Lock()
	if o.gen != gen || o.pendingStop {
		err := ErrCancelled
		if o.gen == gen {
			err = o.startAllowedLocked()
		}
		o.mu.Unlock()
		o.d.Capture.Cancel()
		return nil, err
	}
	run := &Run{
		ID:      uuid.NewString(),
		Started: time.Now(),
		Target:  target,
		Marks:   make(map[string]time.Duration),
	}
	o.run = run
	o.starting = false
	early := o.earlyFail
	o.earlyFail = nil
	o.setStateLocked(Recording)
	o.mu.Unlock()

	if early != nil {
		go o.handleCaptureFailure(gen, early)
	}
	return run, nil
}

// cancelCapture discards the capture of generation gen. It does nothing
// once a newer start has taken over the device.
func (o *Orchestrator) cancelCapture(gen uint64) {
	o.capMu.Lock()
	defer o.capMu.Unlock()
	o.mu.Lock()
	current := o.gen == gen
	o.mu.Unlock()
	if current {
		o.d.Capture.Cancel()
	}
}

// startAllowed reports why a start that finished loading must not open the
// device: a cancel since gen, or a stop that arrived during the load.
func (o *Orchestrator) startAllowed(gen uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return ErrCancelled
	}
	return o.startAllowedLocked()
}

func (o *Orchestrator) startAllowedLocked() error {
	if o.pendingStop {
		o.log.Info("stop arrived during start, not recording")
		return ErrStartAborted
	}
	return nil
}

func (o *Orchestrator) startPreview(ctx context.Context, cfg *config.Config, run *Run) {
	source := func() []float32 { return o.d.Capture.Tail(previewWindow) }
	stop, err := o.d.Models.StartPreview(context.WithoutCancel(ctx), source, cfg.Transcribe.StreamInterval, cfg.Transcribe.Language, o.obs.OnPartial)
	if err != nil {
		o.log.Debug("live preview unavailable", "error", err)
		return
	}
	o.mu.Lock()
	if o.run == run && o.state == Recording {
		o.stopPreview = stop
		stop = nil
	}
	o.mu.Unlock()
	// The run was stopped or cancelled while the preview started.
	if stop != nil {
		stop()
	}
}

// previewWindow is how much trailing audio the live preview re-transcribes.
const previewWindow = 20 * time.Second

// handleCaptureFailure rebuilds a broken capture session. The capture
// engine calls it off the device thread. A failed rebuild aborts the run.
func (o *Orchestrator) handleCaptureFailure(gen uint64, cause error) {
	o.mu.Lock()
	if o.gen == gen && o.starting {
		o.earlyFail = cause
	}
	live := o.gen == gen && o.state == Recording
	o.mu.Unlock()
	if !live {
		return
	}

	ctx := context.Background()
	o.log.Warn("capture session failed, rebuilding", "error", cause)
	err := o.d.Capture.Recreate()
	if o.d.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.d.Metrics.RecordRebuild(ctx, status)
	}
	if err == nil {
		return
	}

	o.mu.Lock()
	// A stop or cancel during the rebuild owns the run now.
	if o.gen != gen || o.state != Recording {
		o.mu.Unlock()
		return
	}
	o.log.Error("capture rebuild failed, aborting run", "error", err)
	run := o.run
	stopPreview := o.abortLocked()
	o.mu.Unlock()

	o.cancelCapture(gen)
	if stopPreview != nil {
		stopPreview()
	}
	o.finishRecord(ctx, run, "failed", err)
	o.reportError(fmt.Errorf("%w: %w", ErrCaptureFailed, err))
}

// abortLocked returns to Idle. The caller runs the returned preview stop,
// if any, after releasing mu.
func (o *Orchestrator) abortLocked() (stopPreview func()) {
	stopPreview = o.stopPreview
	o.stopPreview = nil
	o.run = nil
	o.starting = false
	o.pendingStop = false
	o.earlyFail = nil
	o.setStateLocked(Idle)
	return stopPreview
}

// CancelRecording discards the current capture, if any, and returns to
// Idle. A processing run that is cancelled finishes its engine call but its
// result is not delivered.
func (o *Orchestrator) CancelRecording() {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	wasRecording := o.state == Recording
	stopPreview := o.abortLocked()
	o.mu.Unlock()

	if wasRecording {
		o.cancelCapture(gen)
	}
	if stopPreview != nil {
		stopPreview()
	}
	o.log.Info("recording cancelled")
}

// StopRecordingAndProcess ends capture, runs the processing pipeline and
// delivers the result to the application that was frontmost when recording
// started. Without an active recording it returns ErrNoAudio; during a
// start it marks the start to abort and also returns ErrNoAudio.
func (o *Orchestrator) StopRecordingAndProcess(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.starting {
		o.pendingStop = true
		o.mu.Unlock()
		return Result{}, ErrNoAudio
	}
	if o.state != Recording || o.run == nil {
		o.mu.Unlock()
		return Result{}, ErrNoAudio
	}
	run, gen := o.run, o.gen
	stopPreview := o.stopPreview
	o.stopPreview = nil
	o.setStateLocked(Processing)
	o.mu.Unlock()

	if stopPreview != nil {
		stopPreview()
	}

	cfg := o.d.Settings.Current()
	res, err := o.process(ctx, cfg, run, gen)

	o.mu.Lock()
	if o.gen == gen {
		o.run = nil
		o.setStateLocked(Idle)
	}
	o.mu.Unlock()

	outcome := "delivered"
	switch {
	case errors.Is(err, ErrNoAudio):
		outcome = "no_audio"
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	}
	if outcome != "cancelled" {
		o.finishRecord(ctx, run, outcome, err)
	}
	if err != nil && !errors.Is(err, ErrCancelled) {
		o.reportError(err)
	}
	return res, err
}

// finishRecord emits metrics and the audit event for run.
func (o *Orchestrator) finishRecord(ctx context.Context, run *Run, outcome string, err error) {
	if run == nil {
		return
	}
	total := time.Since(run.Started)
	if m := o.d.Metrics; m != nil {
		m.RecordRun(ctx, outcome, run.Path)
		if outcome == "delivered" {
			m.RecordStage(ctx, observe.StageTotal, total)
		}
	}
	if o.d.Audit == nil {
		return
	}
	cfg := o.d.Settings.Current()
	ev := history.Event{
		ID:           run.ID,
		CreatedAt:    run.Started,
		App:          run.Target.App.Name,
		Category:     run.Target.Category,
		Kind:         run.Kind,
		Path:         run.Path,
		Outcome:      outcome,
		Language:     run.Language,
		STTModel:     cfg.Transcribe.Model,
		LLMModel:     llmModel(cfg),
		Raw:          run.Raw,
		Corrected:    run.Corrected,
		Final:        run.Final,
		Rejection:    run.Rejection,
		AudioSeconds: run.AudioSeconds,
		Transcribe:   run.Marks[observe.StageTranscribe],
		Cleanup:      run.Marks[observe.StageCleanup],
		Total:        total,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	o.d.Audit.Record(ev)
}

// Run keeps the engines resident: it warms them once at startup and then
// every pipeline.keep_alive while idle. It returns when ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	o.warm(ctx)
	for {
		interval := o.d.Settings.Current().Pipeline.KeepAlive
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if o.State() == Idle {
			o.warm(ctx)
		}
	}
}

func (o *Orchestrator) warm(ctx context.Context) {
	start := time.Now()
	if err := o.d.Models.Warmup(ctx); err != nil {
		o.log.Warn("engine warmup failed", "error", err)
		return
	}
	o.log.Debug("engines warmed", "took", time.Since(start))
}

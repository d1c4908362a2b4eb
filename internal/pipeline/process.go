package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chaz8081/voxpipe/internal/audio"
	"github.com/chaz8081/voxpipe/internal/command"
	"github.com/chaz8081/voxpipe/internal/config"
	"github.com/chaz8081/voxpipe/internal/filter"
	"github.com/chaz8081/voxpipe/internal/observe"
	"github.com/chaz8081/voxpipe/internal/prompt"
)

// process runs everything after the recording state has moved to
// Processing. It fills run as it goes so the audit event reflects how far
// the run got.
func (o *Orchestrator) process(ctx context.Context, cfg *config.Config, run *Run, gen uint64) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.process")
	defer span.End()
	log := observe.Logger(ctx).With("run_id", run.ID)

	samples, err := o.d.Capture.Stop()
	if err != nil {
		if errors.Is(err, audio.ErrNoSignal) {
			return Result{}, ErrNoAudio
		}
		return Result{}, fmt.Errorf("pipeline: stop capture: %w", err)
	}
	rate := o.d.Capture.SampleRate()
	if rate > 0 {
		run.AudioSeconds = float64(len(samples)) / float64(rate)
	}
	if len(samples) == 0 || time.Duration(run.AudioSeconds*float64(time.Second)) < cfg.Pipeline.MinAudioDuration {
		log.Info("capture too short", "seconds", run.AudioSeconds)
		return Result{}, ErrNoAudio
	}
	if o.d.DebugWAV != nil {
		go o.d.DebugWAV(samples, rate)
	}

	// Batch pass over the full buffer, never the preview partial.
	sctx, stage := observe.StartSpan(ctx, "pipeline.transcribe")
	start := time.Now()
	tr, err := o.d.Models.Transcribe(sctx, samples, cfg.Transcribe.Language)
	o.mark(ctx, run, observe.StageTranscribe, start)
	stage.End()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	run.Language = tr.Language
	run.Raw = tr.Text

	text := filter.StripMeta(filter.StripArtifacts(tr.Text, cfg.Pipeline.MaxArtifactLen))
	if text == "" {
		log.Info("transcript empty after artifact stripping", "raw", tr.Text)
		return Result{}, ErrNoAudio
	}

	var final string
	if cmd, ok := command.Classify(text); ok && o.commandReady(ctx, cmd, run) {
		final, err = o.runCommand(ctx, cfg, run, cmd, text)
		if err != nil {
			return Result{}, err
		}
	} else if expansion, ok := o.d.Dictionary.MatchSnippet(text); ok {
		run.Kind, run.Path = KindSnippet, PathSnippet
		run.Corrected = text
		final = expansion
		if cfg.Inject.TrailingSpace {
			final += " "
		}
	} else {
		final = o.dictate(ctx, cfg, run, text)
	}
	run.Final = final

	o.mu.Lock()
	cancelled := o.gen != gen
	o.mu.Unlock()
	if cancelled {
		log.Info("run cancelled before delivery")
		return Result{}, ErrCancelled
	}

	res := Result{RunID: run.ID, Kind: run.Kind, Path: run.Path, Text: final, Target: run.Target}
	start = time.Now()
	if err := o.d.Deliver.Paste(ctx, final, run.Target.App); err != nil {
		log.Warn("paste failed, leaving text on clipboard", "error", err)
		if cerr := o.d.Deliver.CopyToClipboard(final); cerr != nil {
			return res, fmt.Errorf("pipeline: deliver: %w", errors.Join(err, cerr))
		}
		res.Copied = true
		o.status("Pasting failed; text copied to clipboard")
	}
	o.mark(ctx, run, observe.StageDeliver, start)

	log.Info("run delivered",
		"kind", run.Kind,
		"path", run.Path,
		"app", run.Target.App.Name,
		"chars", len(final),
	)
	return res, nil
}

// mark records the duration of stage since start.
func (o *Orchestrator) mark(ctx context.Context, run *Run, stage string, start time.Time) {
	d := time.Since(start)
	run.Marks[stage] = d
	if o.d.Metrics != nil {
		o.d.Metrics.RecordStage(ctx, stage, d)
	}
}

func (o *Orchestrator) promptContext(cfg *config.Config, run *Run) prompt.Context {
	return prompt.Context{
		AppName:        run.Target.App.Name,
		Category:       run.Target.Category,
		Style:          run.Target.Style,
		Formality:      cfg.Cleanup.Formality,
		Aggressiveness: cfg.Cleanup.Aggressiveness,
		CustomStyle:    cfg.Cleanup.CustomStyle,
	}
}

// llmReady reports whether a cleanup model is enabled and resident.
func (o *Orchestrator) llmReady(cfg *config.Config) bool {
	return cfg.Cleanup.Enabled && o.d.Models.LLMHandle().Loaded
}

// commandReady reports whether cmd can run. Without a language model, or
// without a selection for a rewrite, the utterance is dictated instead. A
// selection found here is stashed in run.Corrected.
func (o *Orchestrator) commandReady(ctx context.Context, cmd command.Command, run *Run) bool {
	if !o.llmReady(o.d.Settings.Current()) {
		return false
	}
	if !cmd.NeedsSelection() {
		return true
	}
	sel, ok := o.d.Context.SelectedText(ctx)
	if !ok || strings.TrimSpace(sel) == "" {
		return false
	}
	run.Corrected = sel
	return true
}

func (o *Orchestrator) runCommand(ctx context.Context, cfg *config.Config, run *Run, cmd command.Command, text string) (string, error) {
	run.Kind, run.Path = KindCommand, PathCommand
	selection := run.Corrected
	if !cmd.NeedsSelection() {
		run.Corrected = text
	}

	p := o.d.Prompts.BuildCommand(cmd, selection, o.promptContext(cfg, run))
	sctx, stage := observe.StartSpan(ctx, "pipeline.command")
	start := time.Now()
	out, err := o.d.Models.Cleanup(sctx, p.User, p)
	o.mark(ctx, run, observe.StageCleanup, start)
	stage.End()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCommandFailed, err)
	}
	echoRef := text
	if cmd.NeedsSelection() {
		echoRef = selection
	}
	out = filter.StripEcho(out, echoRef, o.d.Prompts.Markers())
	if out == "" {
		return "", fmt.Errorf("%w: empty output", ErrCommandFailed)
	}
	if cfg.Inject.TrailingSpace {
		out += " "
	}
	return out, nil
}

// dictate applies dictionary corrections, then either the fast path or a
// validated language-model cleanup. It never fails: any cleanup problem
// falls back to the corrected transcript.
func (o *Orchestrator) dictate(ctx context.Context, cfg *config.Config, run *Run, text string) string {
	log := observe.Logger(ctx).With("run_id", run.ID)
	run.Kind = KindDictation

	start := time.Now()
	corrected := o.d.Dictionary.ApplyCorrections(text, run.Target.App.Name)
	o.mark(ctx, run, observe.StageCorrect, start)
	run.Corrected = corrected

	format := prompt.Formatter{TrailingSpace: cfg.Inject.TrailingSpace}

	if !o.needsCleanup(cfg, corrected) {
		run.Path = PathFast
		return format.Format(filter.Capitalize(corrected))
	}

	p := o.d.Prompts.Build(corrected, o.promptContext(cfg, run), cfg.Cleanup.Model)
	sctx, stage := observe.StartSpan(ctx, "pipeline.cleanup")
	start = time.Now()
	out, err := o.d.Models.Cleanup(sctx, corrected, p)
	o.mark(ctx, run, observe.StageCleanup, start)
	stage.End()
	if err != nil {
		log.Warn("cleanup failed, using corrected transcript", "error", err)
		return o.fallback(ctx, run, format, corrected, "error")
	}

	out = filter.StripEcho(out, corrected, o.d.Prompts.Markers())
	verdict := filter.Validate(corrected, out, filter.Thresholds{
		MinOverlap:     cfg.Pipeline.MinOverlapRatio,
		MaxLengthRatio: cfg.Pipeline.MaxLengthRatio,
	})
	if !verdict.OK {
		log.Info("cleanup output rejected",
			"reason", verdict.Reason,
			"overlap", verdict.Overlap,
			"length_ratio", verdict.LengthRatio,
		)
		return o.fallback(ctx, run, format, corrected, verdict.Reason)
	}

	run.Path = PathCleanup
	return format.Format(out)
}

const defaultFastPathWords = 20

// needsCleanup decides between the fast path and the language model. Short
// utterances without filler words skip the model.
func (o *Orchestrator) needsCleanup(cfg *config.Config, text string) bool {
	if !o.llmReady(cfg) {
		return false
	}
	limit := cfg.Pipeline.FastPathWords
	if limit <= 0 {
		limit = defaultFastPathWords
	}
	return filter.WordCount(text) > limit || filter.HasFiller(text)
}

func (o *Orchestrator) fallback(ctx context.Context, run *Run, format prompt.Formatter, corrected, reason string) string {
	run.Path = PathFallback
	run.Rejection = reason
	if o.d.Metrics != nil {
		o.d.Metrics.RecordRejection(ctx, reason)
	}
	return format.Format(filter.Capitalize(corrected))
}

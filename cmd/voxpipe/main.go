package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/chaz8081/voxpipe/internal/appctx"
	"github.com/chaz8081/voxpipe/internal/audio"
	"github.com/chaz8081/voxpipe/internal/config"
	"github.com/chaz8081/voxpipe/internal/desktop"
	"github.com/chaz8081/voxpipe/internal/dictionary"
	"github.com/chaz8081/voxpipe/internal/engine"
	"github.com/chaz8081/voxpipe/internal/history"
	"github.com/chaz8081/voxpipe/internal/hotkey"
	"github.com/chaz8081/voxpipe/internal/inject"
	"github.com/chaz8081/voxpipe/internal/llm"
	"github.com/chaz8081/voxpipe/internal/models"
	"github.com/chaz8081/voxpipe/internal/observe"
	"github.com/chaz8081/voxpipe/internal/pipeline"
	"github.com/chaz8081/voxpipe/internal/prompt"
	"github.com/chaz8081/voxpipe/internal/transcribe"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/voxpipe/config.yaml)")
	download := flag.Bool("download", false, "download the configured speech model and exit")
	historyN := flag.Int("history", 0, "print the last N dictations and exit")
	flag.Parse()

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fatal("config", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *download:
		err = downloadModel(ctx, cfg)
	case *historyN > 0:
		err = printHistory(ctx, cfg, *historyN)
	default:
		err = serve(ctx, path, level)
	}
	if err != nil {
		fatal("voxpipe", err)
	}
}

func fatal(what string, err error) {
	slog.Error(what, "error", err)
	os.Exit(1)
}

// resolveConfigPath returns the explicit path, or the default path after
// writing a default config there if none exists yet.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	written, err := config.WriteDefault()
	if err != nil {
		return "", err
	}
	if written != "" {
		slog.Info("wrote default config", "path", written)
	}
	return config.DefaultConfigPath(), nil
}

func downloadModel(ctx context.Context, cfg *config.Config) error {
	store := models.NewStore(cfg.Transcribe.ModelsDir, "")
	fmt.Printf("Downloading %s into %s\n", cfg.Transcribe.Model, store.Dir())
	path, err := store.Ensure(ctx, cfg.Transcribe.Model, models.PrintProgress(cfg.Transcribe.Model))
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("Model ready at %s\n", path)
	return nil
}

func printHistory(ctx context.Context, cfg *config.Config, n int) error {
	store, err := history.OpenSQLite(ctx, cfg.History.Path, 0)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.Recent(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAPP\tPATH\tOUTCOME\tEDIT\tTOTAL\tTEXT")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			e.CreatedAt.Format(time.DateTime), e.App, e.Path, e.Outcome, e.EditRate,
			e.Total.Round(time.Millisecond), truncate(e.Final, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

// serve runs the dictation service until ctx is cancelled.
func serve(ctx context.Context, path string, level *slog.LevelVar) error {
	changes := make(chan [2]*config.Config, 4)
	watcher, err := config.NewWatcher(path, func(prev, next *config.Config) {
		select {
		case changes <- [2]*config.Config{prev, next}:
		default:
			slog.Warn("config change dropped, service busy")
		}
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	printBanner(path, cfg)

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()
	if cfg.Metrics.Listen != "" {
		if _, err := observe.ServeMetrics(ctx, cfg.Metrics.Listen); err != nil {
			slog.Warn("metrics endpoint disabled", "error", err)
		}
	}
	metrics := observe.DefaultMetrics()

	recorder := openHistory(ctx, cfg)
	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := recorder.Close(fctx); err != nil {
			slog.Warn("history flush incomplete", "error", err)
		}
	}()

	dict, err := dictionary.Open(cfg.Dictionary.Path)
	if err != nil {
		return err
	}

	store := models.NewStore(cfg.Transcribe.ModelsDir, "")
	newLLM := func(modelID string) (engine.LLM, error) {
		return llm.Factory(watcher.Current().Cleanup)(modelID)
	}
	executor := engine.NewExecutor(transcribe.Factory(store), newLLM, engine.Options{Metrics: metrics, Logger: slog.Default()})
	defer func() {
		if err := executor.UnloadAll(); err != nil {
			slog.Warn("unload engines", "error", err)
		}
	}()

	backend, err := audio.NewMalgoBackend()
	if err != nil {
		return fmt.Errorf("audio backend: %w", err)
	}
	defer backend.Close()
	capture := audio.NewEngine(backend, audio.EngineOptions{
		TargetRate: cfg.Audio.SampleRate,
		MaxErrors:  cfg.Audio.MaxErrors,
		DevicePoll: cfg.Audio.DevicePoll,
		Logger:     slog.Default(),
	})
	defer capture.Close()
	if err := capture.WarmUp(); err != nil {
		slog.Warn("audio warm-up failed", "error", err)
	}

	desk := desktop.Robot{}
	detector := appctx.NewDetector(desk, cfg.Apps)
	injector := inject.NewInjector(desk, inject.Options{
		Method:     cfg.Inject.Method,
		FocusDelay: cfg.Inject.FocusDelay,
	})

	listener := hotkey.NewListener(cfg.Hotkey.Keys, cfg.Hotkey.Mode, cfg.Hotkey.CancelKeys)

	orch := pipeline.New(pipeline.Deps{
		Capture:    capture,
		Models:     executor,
		Permission: audio.NewMicrophonePermission(backend),
		Prompts:    prompt.NewBuilder(),
		Dictionary: dict,
		Context:    detector,
		Deliver:    injector,
		Audit:      recorder,
		Settings:   watcher,
		Metrics:    metrics,
		Logger:     slog.Default(),
		DebugWAV: func(samples []float32, rate uint32) {
			dir := watcher.Current().Audio.DebugWAVDir
			if dir == "" {
				return
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				slog.Warn("debug wav", "error", err)
				return
			}
			name := filepath.Join(dir, time.Now().Format("20060102-150405.000")+".wav")
			if err := audio.WriteWAV(name, samples, int(rate)); err != nil {
				slog.Warn("debug wav", "error", err)
			}
		},
	}, pipeline.Observer{
		OnState:   func(s pipeline.State) { slog.Debug("state", "state", s.String()) },
		OnStatus:  func(msg string) { slog.Info(msg) },
		OnPartial: func(text string) { slog.Debug("partial", "text", text) },
		OnError:   func(err error) { slog.Warn("dictation error", "error", err) },
	})

	go func() {
		if err := orch.Preload(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("model preload failed", "error", err)
		}
	}()
	go orch.Run(ctx)

	sess := newSession(orch, slog.Default(), listener.Reset)
	go listener.Start()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	slog.Info("ready", "hotkey", strings.Join(cfg.Hotkey.Keys, "+"), "mode", cfg.Hotkey.Mode)

	events := listener.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				slog.Info("hotkey listener stopped")
				return nil
			}
			sess.handle(ctx, ev)

		case ch := <-changes:
			applyConfig(ctx, ch[0], ch[1], level, dict, detector, orch)

		case <-hup:
			if err := dict.Reload(); err != nil {
				slog.Warn("dictionary reload failed", "error", err)
			} else {
				slog.Info("dictionary reloaded")
			}

		case <-ctx.Done():
			slog.Info("shutting down")
			orch.CancelRecording()
			sess.wait()
			// Exit without listener.Stop to avoid gohook's C cleanup crash;
			// the OS reclaims the event hook on process exit.
			return nil
		}
	}
}

// openHistory builds the audit recorder. Sinks that fail to open are
// skipped so dictation keeps working without them.
func openHistory(ctx context.Context, cfg *config.Config) *history.Recorder {
	var sinks []history.Sink
	if cfg.History.Enabled {
		store, err := history.OpenSQLite(ctx, cfg.History.Path, cfg.History.RetentionDays)
		if err != nil {
			slog.Warn("history disabled", "error", err)
		} else {
			sinks = append(sinks, store)
		}
	}
	if cfg.History.NATSURL != "" {
		pub, err := history.NewNATSPublisher(cfg.History.NATSURL, cfg.History.NATSSubject)
		if err != nil {
			slog.Warn("nats publishing disabled", "error", err)
		} else {
			sinks = append(sinks, pub)
		}
	}
	return history.NewRecorder(slog.Default(), sinks...)
}

// applyConfig reacts to a saved config file. Most settings are read per run
// and need nothing here.
func applyConfig(ctx context.Context, prev, next *config.Config, level *slog.LevelVar, dict *dictionary.Dictionary, detector *appctx.Detector, orch *pipeline.Orchestrator) {
	slog.Info("config reloaded")
	level.Set(config.ParseLogLevel(next.LogLevel))
	detector.SetOverrides(next.Apps)
	if err := dict.Reload(); err != nil {
		slog.Warn("dictionary reload failed", "error", err)
	}

	if load := modelReload(prev, next, orch); load != nil {
		go func() {
			if err := load(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("model swap failed", "error", err)
			}
		}()
	}
	if !slices.Equal(prev.Hotkey.Keys, next.Hotkey.Keys) || prev.Hotkey.Mode != next.Hotkey.Mode ||
		!slices.Equal(prev.Hotkey.CancelKeys, next.Hotkey.CancelKeys) ||
		prev.Audio != next.Audio || prev.Inject != next.Inject || prev.Dictionary.Path != next.Dictionary.Path {
		slog.Warn("some changed settings take effect after a restart", "sections", "hotkey, audio, inject, dictionary.path")
	}
}

// modelLoader is the part of the orchestrator that swaps models.
type modelLoader interface {
	Preload(ctx context.Context) error
	ReloadCleanup(ctx context.Context) error
}

// modelReload picks how to apply a config change to the loaded models: nil
// when nothing the engines depend on changed, ReloadCleanup when the
// language model must be rebuilt under an unchanged id, Preload otherwise.
func modelReload(prev, next *config.Config, orch modelLoader) func(context.Context) error {
	switch {
	case next.Cleanup.Enabled && prev.Cleanup.Enabled && !next.Cleanup.SameConnection(prev.Cleanup):
		return orch.ReloadCleanup
	case prev.Transcribe.Model != next.Transcribe.Model || !next.Cleanup.SameEngine(prev.Cleanup):
		return orch.Preload
	}
	return nil
}

// printBanner displays the startup configuration summary.
func printBanner(path string, cfg *config.Config) {
	cleanup := "off"
	if cfg.Cleanup.Enabled {
		cleanup = cfg.Cleanup.Provider + "/" + cfg.Cleanup.Model
	}
	fmt.Println("=== voxpipe ===")
	fmt.Printf("  Config:  %s\n", path)
	fmt.Printf("  Speech:  %s (%s)\n", cfg.Transcribe.Model, cfg.Transcribe.Language)
	fmt.Printf("  Cleanup: %s\n", cleanup)
	fmt.Printf("  Hotkey:  %s (%s mode)\n", strings.Join(cfg.Hotkey.Keys, "+"), cfg.Hotkey.Mode)
	fmt.Printf("  Inject:  %s\n", cfg.Inject.Method)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("===============")
}

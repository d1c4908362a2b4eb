package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/chaz8081/voxpipe/internal/hotkey"
	"github.com/chaz8081/voxpipe/internal/pipeline"
)

// recorder is the part of the orchestrator the hotkey loop drives.
type recorder interface {
	StartRecording(ctx context.Context) error
	StopRecordingAndProcess(ctx context.Context) (pipeline.Result, error)
	CancelRecording()
	State() pipeline.State
}

// session turns hotkey events into orchestrator calls. Each call runs on
// its own goroutine so a slow model load never blocks the event loop.
//
// A stop or cancel can overtake the goroutine of the start it belongs to
// before the orchestrator has seen that start. The session remembers it and
// replays it once the start returns.
type session struct {
	rec   recorder
	log   *slog.Logger
	reset func() // re-arms a toggle hotkey after a run ends on its own

	mu           sync.Mutex
	startPending bool
	stopQueued   bool
	cancelQueued bool
	wg           sync.WaitGroup
}

func newSession(rec recorder, log *slog.Logger, reset func()) *session {
	if reset == nil {
		reset = func() {}
	}
	return &session{rec: rec, log: log, reset: reset}
}

func (s *session) handle(ctx context.Context, ev hotkey.Event) {
	switch ev.Type {
	case hotkey.EventStart:
		s.start(ctx)
	case hotkey.EventStop:
		s.stop(ctx)
	case hotkey.EventCancel:
		s.mu.Lock()
		s.stopQueued = false
		s.cancelQueued = s.startPending
		s.mu.Unlock()
		s.rec.CancelRecording()
	}
}

func (s *session) start(ctx context.Context) {
	s.mu.Lock()
	s.startPending = true
	s.stopQueued = false
	s.cancelQueued = false
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.rec.StartRecording(ctx)

		s.mu.Lock()
		s.startPending = false
		replay, cancel := s.stopQueued, s.cancelQueued
		s.stopQueued, s.cancelQueued = false, false
		s.mu.Unlock()

		switch {
		case err == nil && cancel:
			s.rec.CancelRecording()
			s.reset()
		case err == nil:
			if replay {
				s.process(ctx)
			}
		case errors.Is(err, pipeline.ErrBusy):
			s.log.Debug("hotkey ignored, dictation in progress")
		case errors.Is(err, pipeline.ErrStartAborted), errors.Is(err, pipeline.ErrCancelled):
			s.reset()
		default:
			s.log.Error("could not start recording", "error", err)
			s.reset()
		}
	}()
}

func (s *session) stop(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(ctx)
	}()
}

func (s *session) process(ctx context.Context) {
	res, err := s.rec.StopRecordingAndProcess(ctx)
	switch {
	case err == nil:
		s.log.Info("dictation delivered", "app", res.Target.App.Name, "path", res.Path, "copied", res.Copied)
	case errors.Is(err, pipeline.ErrNoAudio):
		s.mu.Lock()
		if s.startPending && s.rec.State() == pipeline.Idle {
			s.stopQueued = true
		}
		s.mu.Unlock()
	case errors.Is(err, pipeline.ErrCancelled):
	default:
		s.log.Error("dictation failed", "error", err)
		s.reset()
	}
}

// wait blocks until every in-flight call has returned.
func (s *session) wait() { s.wg.Wait() }

// Package hotkey provides a global hotkey listener using gohook.
// It supports "hold" mode (press to start, release to stop) and
// "toggle" mode (press to start, press again to stop), plus an optional
// cancel combo that discards the current dictation.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType indicates what the hotkey asks the dictation pipeline to do.
type EventType int

const (
	// EventStart signals that the hotkey was activated (start recording).
	EventStart EventType = iota
	// EventStop signals that the hotkey was deactivated (stop and process).
	EventStop
	// EventCancel signals that the cancel combo was pressed.
	EventCancel
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener manages a global hotkey and emits start/stop/cancel events.
type Listener struct {
	keys       []string
	cancelKeys []string
	d          *dispatcher
	done       chan struct{}
	once       sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "r"]).
// mode must be "hold" or "toggle". cancelKeys may be empty.
func NewListener(keys []string, mode string, cancelKeys []string) *Listener {
	return &Listener{
		keys:       keys,
		cancelKeys: cancelKeys,
		d:          newDispatcher(mode),
		done:       make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.d.ch
}

// Reset tells a toggle-mode listener that the dictation ended on its own
// (cancelled, failed or finished), so the next press starts a new one.
func (l *Listener) Reset() {
	l.d.reset()
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.d.keyDown() })
	hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.d.keyUp() })
	if len(l.cancelKeys) > 0 {
		hook.Register(hook.KeyDown, l.cancelKeys, func(hook.Event) { l.d.cancel() })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	l.d.close()
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

// dispatcher turns raw key transitions into events for the configured
// mode. gohook repeats KeyDown while a combo is held; only the first one
// counts.
type dispatcher struct {
	toggle bool
	ch     chan Event

	mu        sync.Mutex
	held      bool
	recording bool
	closed    bool
}

func newDispatcher(mode string) *dispatcher {
	return &dispatcher{
		toggle: mode == "toggle",
		ch:     make(chan Event, 16),
	}
}

func (d *dispatcher) keyDown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held {
		return
	}
	d.held = true

	if !d.toggle {
		d.recording = true
		d.emitLocked(EventStart)
		return
	}
	if d.recording {
		d.recording = false
		d.emitLocked(EventStop)
	} else {
		d.recording = true
		d.emitLocked(EventStart)
	}
}

func (d *dispatcher) keyUp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = false
	if d.toggle || !d.recording {
		return
	}
	d.recording = false
	d.emitLocked(EventStop)
}

func (d *dispatcher) cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recording = false
	d.emitLocked(EventCancel)
}

func (d *dispatcher) reset() {
	d.mu.Lock()
	d.recording = false
	d.mu.Unlock()
}

// emitLocked never blocks the hook thread.
func (d *dispatcher) emitLocked(t EventType) {
	if d.closed {
		return
	}
	select {
	case d.ch <- Event{Type: t}:
	default:
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
}

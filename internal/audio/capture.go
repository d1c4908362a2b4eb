package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNoSignal is returned by Stop when nothing was captured.
	ErrNoSignal = errors.New("audio: no signal captured")

	// ErrFormatNegotiation is returned by Start when no candidate format
	// could be opened.
	ErrFormatNegotiation = errors.New("audio: no usable capture format")

	// ErrDeviceChanged is passed to the failure callback when the set of
	// attached capture devices changes mid-session.
	ErrDeviceChanged = errors.New("audio: capture devices changed")

	// ErrDeviceLost is passed to the failure callback when the device stops
	// without being asked to.
	ErrDeviceLost = errors.New("audio: capture device stopped unexpectedly")
)

// candidateFormats is tried in order until one opens. The device's native
// format comes first; the rest are common fallbacks.
var candidateFormats = []Format{
	{},
	{Sample: FormatF32, Channels: 1, SampleRate: 16000},
	{Sample: FormatS16, Channels: 1, SampleRate: 16000},
	{Sample: FormatF32, Channels: 1, SampleRate: 48000},
	{Sample: FormatS16, Channels: 2, SampleRate: 48000},
	{Sample: FormatS16, Channels: 1, SampleRate: 44100},
	{Sample: FormatS16, Channels: 2, SampleRate: 44100},
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	TargetRate   uint32        // default 16000
	MaxErrors    int           // consecutive conversion errors before failure; default 10
	DevicePoll   time.Duration // hot-swap polling interval; default 2s, negative disables
	WarmCapacity time.Duration // buffer capacity reserved by WarmUp; default 30s
	Logger       *slog.Logger
}

// Engine owns the live capture device and the sample buffer. At most one
// session is active at a time.
type Engine struct {
	backend Backend
	opts    EngineOptions
	log     *slog.Logger
	buf     SampleBuffer

	mu      sync.Mutex
	sess    *session
	devices []DeviceInfo // refreshed by WarmUp and every open
}

// session is one opened device plus its conversion and watch state.
type session struct {
	hint      string
	device    Device
	conv      *converter
	onLevel   func(float32)
	onFailure func(error)

	errs    atomic.Int32
	failed  atomic.Bool
	closing atomic.Bool

	levels chan float32
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a capture engine on backend.
func NewEngine(backend Backend, opts EngineOptions) *Engine {
	if opts.TargetRate == 0 {
		opts.TargetRate = 16000
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 10
	}
	if opts.DevicePoll == 0 {
		opts.DevicePoll = 2 * time.Second
	}
	if opts.WarmCapacity <= 0 {
		opts.WarmCapacity = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{backend: backend, opts: opts, log: log}
}

// WarmUp enumerates devices and reserves buffer capacity so Start does not
// pay for either. It never opens a device.
func (e *Engine) WarmUp() error {
	devices, err := e.backend.Devices()
	if err != nil {
		return fmt.Errorf("audio: warm up: %w", err)
	}
	e.mu.Lock()
	e.devices = devices
	e.mu.Unlock()

	e.buf.Reserve(int(e.opts.WarmCapacity.Seconds() * float64(e.opts.TargetRate)))
	return nil
}

// Start tears down any active session, clears the buffer and begins
// capturing from the device matching deviceHint (case-insensitive substring,
// empty for the default). onLevel receives the RMS of every callback off the
// device thread; onFailure is called at most once per session when the
// session can no longer deliver audio.
func (e *Engine) Start(ctx context.Context, deviceHint string, onLevel func(float32), onFailure func(error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardownLocked()
	e.buf.Reset()

	sess, err := e.openLocked(deviceHint, onLevel, onFailure)
	if err != nil {
		return err
	}
	e.sess = sess
	return nil
}

// Recreate replaces the active session with a fresh one on the same device
// hint and callbacks. Captured samples are kept.
func (e *Engine) Recreate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.sess
	if old == nil {
		return fmt.Errorf("audio: recreate: no active session")
	}
	e.teardownLocked()

	sess, err := e.openLocked(old.hint, old.onLevel, old.onFailure)
	if err != nil {
		return fmt.Errorf("audio: recreate: %w", err)
	}
	e.sess = sess
	e.log.Info("capture session rebuilt", "format", sess.device.Format().String(), "buffered", e.buf.Len())
	return nil
}

// Stop ends capture and returns everything captured since Start. The device
// is torn down even when no session is active. It returns ErrNoSignal when
// the buffer is empty; a second Stop therefore returns ErrNoSignal.
func (e *Engine) Stop() ([]float32, error) {
	e.mu.Lock()
	e.teardownLocked()
	samples := e.buf.Drain()
	e.mu.Unlock()

	go e.rewarm()

	if len(samples) == 0 {
		return nil, ErrNoSignal
	}
	return samples, nil
}

// Cancel ends capture and discards the buffer.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.teardownLocked()
	e.buf.Reset()
	e.mu.Unlock()

	go e.rewarm()
}

// Active reports whether a session is open.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil
}

// Snapshot copies the samples captured so far without stopping.
func (e *Engine) Snapshot() []float32 { return e.buf.Snapshot() }

// Tail copies at most the last d of captured audio.
func (e *Engine) Tail(d time.Duration) []float32 {
	return e.buf.Tail(int(d.Seconds() * float64(e.opts.TargetRate)))
}

// SampleRate is the rate of the samples returned by Stop and Snapshot.
func (e *Engine) SampleRate() uint32 { return e.opts.TargetRate }

// Close stops capture and releases the backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.teardownLocked()
	e.mu.Unlock()
	return e.backend.Close()
}

func (e *Engine) rewarm() {
	if err := e.WarmUp(); err != nil {
		e.log.Warn("capture re-warm failed", "error", err)
	}
}

// openLocked negotiates a format, starts the device and the session's
// helper goroutines. The device list is re-read first so a rebuilt session
// watches against the devices attached now, not those of the previous one.
func (e *Engine) openLocked(hint string, onLevel func(float32), onFailure func(error)) (*session, error) {
	e.refreshDevicesLocked()
	name := e.resolveDeviceLocked(hint)

	sess := &session{
		hint:      hint,
		onLevel:   onLevel,
		onFailure: onFailure,
		levels:    make(chan float32, 1),
		done:      make(chan struct{}),
	}

	var lastErr error
	for _, want := range candidateFormats {
		dev, err := e.backend.Open(name, want, func(raw []byte) { e.onData(sess, raw) }, func() { e.onDeviceStop(sess) })
		if err != nil {
			lastErr = err
			e.log.Debug("capture format rejected", "format", want.String(), "error", err)
			continue
		}
		conv, err := newConverter(dev.Format(), e.opts.TargetRate)
		if err != nil {
			dev.Close()
			lastErr = err
			continue
		}
		sess.device = dev
		sess.conv = conv
		break
	}
	if sess.device == nil {
		return nil, fmt.Errorf("%w: %w", ErrFormatNegotiation, lastErr)
	}

	if err := sess.device.Start(); err != nil {
		sess.closing.Store(true)
		sess.device.Close()
		return nil, fmt.Errorf("audio: start capture: %w", err)
	}

	sess.wg.Add(1)
	go e.deliverLevels(sess)

	if e.opts.DevicePoll > 0 {
		baseline := e.devices
		sess.wg.Add(1)
		go e.watchDevices(sess, baseline)
	}

	e.log.Debug("capture started", "device", name, "format", sess.device.Format().String())
	return sess, nil
}

// teardownLocked stops and releases the active device, if any.
func (e *Engine) teardownLocked() {
	sess := e.sess
	e.sess = nil
	if sess == nil {
		return
	}
	sess.closing.Store(true)
	if err := sess.device.Stop(); err != nil {
		e.log.Warn("stopping capture device", "error", err)
	}
	sess.device.Close()
	close(sess.done)
	sess.wg.Wait()
}

func (e *Engine) refreshDevicesLocked() {
	devices, err := e.backend.Devices()
	if err != nil {
		e.log.Warn("listing capture devices", "error", err)
		return
	}
	e.devices = devices
}

// resolveDeviceLocked maps hint to an attached device name. A hint that
// matches nothing, including a device that was just unplugged, selects the
// default.
func (e *Engine) resolveDeviceLocked(hint string) string {
	if hint == "" {
		return ""
	}
	needle := strings.ToLower(hint)
	for _, d := range e.devices {
		if strings.Contains(strings.ToLower(d.Name), needle) {
			return d.Name
		}
	}
	e.log.Warn("capture device not found, using default", "hint", hint)
	return ""
}

// onData runs on the device thread.
func (e *Engine) onData(sess *session, raw []byte) {
	if sess.closing.Load() {
		return
	}
	samples, err := sess.conv.Convert(raw)
	if err != nil {
		n := sess.errs.Add(1)
		if int(n) >= e.opts.MaxErrors {
			e.fail(sess, fmt.Errorf("%d consecutive conversion errors: %w", n, err))
		}
		return
	}
	sess.errs.Store(0)
	e.buf.Append(samples)

	select {
	case sess.levels <- RMS(samples):
	default:
	}
}

func (e *Engine) onDeviceStop(sess *session) {
	if sess.closing.Load() {
		return
	}
	e.fail(sess, ErrDeviceLost)
}

// fail reports a session failure once. The callback runs on its own
// goroutine because the usual reaction is Recreate, which takes e.mu.
func (e *Engine) fail(sess *session, err error) {
	if !sess.failed.CompareAndSwap(false, true) {
		return
	}
	e.log.Warn("capture session failed", "error", err)
	if sess.onFailure != nil {
		go sess.onFailure(err)
	}
}

func (e *Engine) deliverLevels(sess *session) {
	defer sess.wg.Done()
	for {
		select {
		case <-sess.done:
			return
		case lvl := <-sess.levels:
			if sess.onLevel != nil {
				sess.onLevel(lvl)
			}
		}
	}
}

func (e *Engine) watchDevices(sess *session, baseline []DeviceInfo) {
	defer sess.wg.Done()
	ticker := time.NewTicker(e.opts.DevicePoll)
	defer ticker.Stop()

	want := deviceNames(baseline)
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			current, err := e.backend.Devices()
			if err != nil {
				continue
			}
			got := deviceNames(current)
			if want == nil {
				want = got
				continue
			}
			if !slices.Equal(want, got) {
				e.fail(sess, fmt.Errorf("%w: %v -> %v", ErrDeviceChanged, want, got))
				return
			}
		}
	}
}

func deviceNames(devices []DeviceInfo) []string {
	if devices == nil {
		return nil
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	slices.Sort(names)
	return names
}

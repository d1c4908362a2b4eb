package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestEngine(b Backend) *Engine {
	return NewEngine(b, EngineOptions{DevicePoll: -1, MaxErrors: 3})
}

func TestEngine_BufferIntegrity(t *testing.T) {
	const callbacks, k = 50, 160

	b := newFakeBackend()
	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	dev := b.last()
	for n := range callbacks {
		chunk := make([]float32, k)
		for i := range chunk {
			chunk[i] = float32(n*k+i) / (callbacks * k)
		}
		dev.feed(chunk)
	}

	samples, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(samples) != callbacks*k {
		t.Fatalf("Stop() returned %d samples, want %d", len(samples), callbacks*k)
	}
	for i, s := range samples {
		if want := float32(i) / (callbacks * k); s != want {
			t.Fatalf("samples[%d] = %v, want %v", i, s, want)
		}
	}
}

func TestEngine_ConcurrentCallbacksAndSnapshots(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	dev := b.last()

	const k = 64
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				if n := len(e.Snapshot()); n%k != 0 {
					t.Errorf("snapshot length %d is not a whole number of callbacks", n)
					return
				}
			}
		}
	}()

	for range 200 {
		dev.feed(make([]float32, k))
	}
	close(done)
	wg.Wait()

	samples, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(samples) != 200*k {
		t.Errorf("Stop() returned %d samples, want %d", len(samples), 200*k)
	}
}

func TestEngine_StopTwice(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.last().feed([]float32{0.1, 0.2})

	if _, err := e.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	samples, err := e.Stop()
	if !errors.Is(err, ErrNoSignal) {
		t.Errorf("second Stop() error = %v, want ErrNoSignal", err)
	}
	if samples != nil {
		t.Errorf("second Stop() returned %d samples, want none", len(samples))
	}
}

func TestEngine_StopWithoutStart(t *testing.T) {
	e := newTestEngine(newFakeBackend())
	if _, err := e.Stop(); !errors.Is(err, ErrNoSignal) {
		t.Errorf("Stop() error = %v, want ErrNoSignal", err)
	}
}

func TestEngine_StopTearsDownDevice(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	dev := b.last()
	_, _ = e.Stop()
	if !dev.isClosed() {
		t.Error("device should be closed after Stop")
	}
	if e.Active() {
		t.Error("Active() should be false after Stop")
	}
}

func TestEngine_StartReplacesActiveSession(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := b.last()
	first.feed([]float32{1, 2, 3})

	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if !first.isClosed() {
		t.Error("first device should be closed when a new session starts")
	}
	if n := len(e.Snapshot()); n != 0 {
		t.Errorf("buffer has %d samples after restart, want 0", n)
	}
	// Late callbacks from the old device are ignored.
	first.feed([]float32{4})
	if n := len(e.Snapshot()); n != 0 {
		t.Errorf("buffer has %d samples after stale callback, want 0", n)
	}
}

func TestEngine_Cancel(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.last().feed([]float32{0.5, 0.5})
	e.Cancel()

	if _, err := e.Stop(); !errors.Is(err, ErrNoSignal) {
		t.Errorf("Stop() after Cancel error = %v, want ErrNoSignal", err)
	}
}

func TestEngine_FormatNegotiation(t *testing.T) {
	b := newFakeBackend()
	b.reject[Format{}] = true
	b.reject[Format{Sample: FormatF32, Channels: 1, SampleRate: 16000}] = true

	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	got := b.last().Format()
	want := Format{Sample: FormatS16, Channels: 1, SampleRate: 16000}
	if got != want {
		t.Errorf("negotiated %v, want %v", got, want)
	}

	b.last().onData(s16Bytes([]int16{16384, -16384}))
	samples, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(samples) != 2 || samples[0] != 0.5 || samples[1] != -0.5 {
		t.Errorf("samples = %v, want [0.5 -0.5]", samples)
	}
}

func TestEngine_FormatNegotiationExhausted(t *testing.T) {
	b := newFakeBackend()
	b.openErr = errors.New("device busy")

	e := newTestEngine(b)
	err := e.Start(context.Background(), "", nil, nil)
	if !errors.Is(err, ErrFormatNegotiation) {
		t.Fatalf("Start() error = %v, want ErrFormatNegotiation", err)
	}
	if len(b.wants) != len(candidateFormats) {
		t.Errorf("tried %d formats, want %d", len(b.wants), len(candidateFormats))
	}
	if b.wants[0] != (Format{}) {
		t.Errorf("first candidate = %v, want native", b.wants[0])
	}
	if e.Active() {
		t.Error("no session should be active after a failed start")
	}
}

func TestEngine_ConversionErrorThreshold(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)

	failures := make(chan error, 4)
	if err := e.Start(context.Background(), "", nil, func(err error) { failures <- err }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	dev := b.last()

	// Two bad buffers, one good one: the counter resets.
	dev.onData([]byte{1, 2, 3})
	dev.onData([]byte{1})
	dev.feed([]float32{0.1})
	dev.onData([]byte{1, 2})
	dev.onData([]byte{1, 2})

	select {
	case err := <-failures:
		t.Fatalf("failure reported before threshold: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	dev.onData([]byte{1, 2})
	select {
	case err := <-failures:
		if !errors.Is(err, ErrConversion) {
			t.Errorf("failure = %v, want ErrConversion", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no failure reported at threshold")
	}

	// Reported once per session.
	for range 5 {
		dev.onData([]byte{1})
	}
	select {
	case err := <-failures:
		t.Errorf("second failure reported: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_RecreatePreservesBuffer(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := b.last()
	first.feed([]float32{0.1, 0.2, 0.3})

	if err := e.Recreate(); err != nil {
		t.Fatalf("Recreate() error = %v", err)
	}
	if !first.isClosed() {
		t.Error("old device should be closed by Recreate")
	}
	second := b.last()
	if second == first {
		t.Fatal("Recreate should open a new device")
	}
	second.feed([]float32{0.4})

	samples, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(samples) != 4 {
		t.Errorf("Stop() returned %d samples, want 4", len(samples))
	}
}

func TestEngine_RecreateWithoutSession(t *testing.T) {
	e := newTestEngine(newFakeBackend())
	if err := e.Recreate(); err == nil {
		t.Error("Recreate() without a session should fail")
	}
}

func TestEngine_DeviceLost(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	failures := make(chan error, 1)
	if err := e.Start(context.Background(), "", nil, func(err error) { failures <- err }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The device stops on its own.
	b.last().onStop()

	select {
	case err := <-failures:
		if !errors.Is(err, ErrDeviceLost) {
			t.Errorf("failure = %v, want ErrDeviceLost", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no failure reported for lost device")
	}
}

func TestEngine_RequestedStopIsNotAFailure(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	failures := make(chan error, 1)
	if err := e.Start(context.Background(), "", nil, func(err error) { failures <- err }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_, _ = e.Stop()

	select {
	case err := <-failures:
		t.Errorf("unexpected failure: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_DeviceHotSwap(t *testing.T) {
	b := newFakeBackend()
	e := NewEngine(b, EngineOptions{DevicePoll: 5 * time.Millisecond})
	if err := e.WarmUp(); err != nil {
		t.Fatalf("WarmUp() error = %v", err)
	}

	failures := make(chan error, 1)
	if err := e.Start(context.Background(), "", nil, func(err error) { failures <- err }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Cancel()

	b.setDevices(
		DeviceInfo{Name: "Built-in Microphone", Default: true},
		DeviceInfo{Name: "USB Headset"},
	)

	select {
	case err := <-failures:
		if !errors.Is(err, ErrDeviceChanged) {
			t.Errorf("failure = %v, want ErrDeviceChanged", err)
		}
	case <-time.After(time.Second):
		t.Fatal("device change not detected")
	}
}

func TestEngine_RebuildAfterHotPlugSettles(t *testing.T) {
	b := newFakeBackend()
	e := NewEngine(b, EngineOptions{DevicePoll: 5 * time.Millisecond})
	if err := e.WarmUp(); err != nil {
		t.Fatalf("WarmUp() error = %v", err)
	}

	var failures atomic.Int32
	rebuilt := make(chan error, 8)
	onFailure := func(error) {
		failures.Add(1)
		rebuilt <- e.Recreate()
	}
	if err := e.Start(context.Background(), "", nil, onFailure); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Cancel()
	b.last().feed([]float32{0.1, 0.2})

	b.setDevices(
		DeviceInfo{Name: "Built-in Microphone", Default: true},
		DeviceInfo{Name: "USB Mic"},
	)

	select {
	case err := <-rebuilt:
		if err != nil {
			t.Fatalf("Recreate() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("device change not detected")
	}

	// The rebuilt session watches the new device list and stays quiet.
	time.Sleep(100 * time.Millisecond)
	if n := failures.Load(); n != 1 {
		t.Errorf("failure callbacks after one hot-plug = %d, want 1", n)
	}
	if n := b.openCount(); n != 2 {
		t.Errorf("devices opened = %d, want 2", n)
	}
	if n := len(e.Snapshot()); n != 2 {
		t.Errorf("buffer has %d samples after rebuild, want 2", n)
	}
}

func TestEngine_RebuildAfterHintedDeviceUnplugged(t *testing.T) {
	b := newFakeBackend()
	b.setDevices(
		DeviceInfo{Name: "Built-in Microphone", Default: true},
		DeviceInfo{Name: "USB Headset Mic"},
	)
	e := newTestEngine(b)
	if err := e.WarmUp(); err != nil {
		t.Fatalf("WarmUp() error = %v", err)
	}
	if err := e.Start(context.Background(), "headset", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.last().feed([]float32{0.5})

	b.setDevices(DeviceInfo{Name: "Built-in Microphone", Default: true})
	if err := e.Recreate(); err != nil {
		t.Fatalf("Recreate() error = %v", err)
	}
	if got := b.last().name; got != "" {
		t.Errorf("rebuilt on %q, want the default device", got)
	}
	b.last().feed([]float32{0.25})

	samples, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(samples) != 2 {
		t.Errorf("Stop() returned %d samples, want 2", len(samples))
	}
}

func TestEngine_DeviceHint(t *testing.T) {
	b := newFakeBackend()
	b.setDevices(
		DeviceInfo{Name: "Built-in Microphone", Default: true},
		DeviceInfo{Name: "USB Headset Mic"},
	)
	e := newTestEngine(b)

	if err := e.Start(context.Background(), "headset", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := b.last().name; got != "USB Headset Mic" {
		t.Errorf("opened %q, want %q", got, "USB Headset Mic")
	}
	e.Cancel()

	if err := e.Start(context.Background(), "nonexistent", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := b.last().name; got != "" {
		t.Errorf("opened %q for unknown hint, want default", got)
	}
	e.Cancel()
}

func TestEngine_LevelCallback(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)

	levels := make(chan float32, 16)
	onLevel := func(l float32) {
		select {
		case levels <- l:
		default:
		}
	}
	if err := e.Start(context.Background(), "", onLevel, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Cancel()

	b.last().feed([]float32{0.5, -0.5, 0.5, -0.5})
	select {
	case l := <-levels:
		if l != 0.5 {
			t.Errorf("level = %v, want 0.5", l)
		}
	case <-time.After(time.Second):
		t.Fatal("no level delivered")
	}
}

func TestEngine_SlowLevelConsumerDoesNotBlockCapture(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)

	release := make(chan struct{})
	onLevel := func(float32) { <-release }
	if err := e.Start(context.Background(), "", onLevel, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		for range 100 {
			b.last().feed([]float32{0.1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("device callbacks blocked behind level delivery")
	}
	if n := len(e.Snapshot()); n != 100 {
		t.Errorf("buffer has %d samples, want 100", n)
	}
	close(release)
	e.Cancel()
}

func TestEngine_StartCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newFakeBackend()
	if err := newTestEngine(b).Start(ctx, "", nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
	if b.openCount() != 0 {
		t.Error("no device should be opened for a cancelled start")
	}
}

func TestEngine_Tail(t *testing.T) {
	b := newFakeBackend()
	e := newTestEngine(b)
	if err := e.Start(context.Background(), "", nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Cancel()

	b.last().feed(make([]float32, 32000))
	if n := len(e.Tail(time.Second)); n != 16000 {
		t.Errorf("Tail(1s) = %d samples, want 16000", n)
	}
	if n := len(e.Tail(10 * time.Second)); n != 32000 {
		t.Errorf("Tail(10s) = %d samples, want 32000", n)
	}
}

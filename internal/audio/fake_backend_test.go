package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
)

// fakeBackend opens fakeDevices. Formats listed in reject fail to open.
type fakeBackend struct {
	mu      sync.Mutex
	devices []DeviceInfo
	native  Format
	reject  map[Format]bool
	openErr error

	opened []*fakeDevice
	wants  []Format
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		devices: []DeviceInfo{{Name: "Built-in Microphone", Default: true}},
		native:  Format{Sample: FormatF32, Channels: 1, SampleRate: 16000},
		reject:  map[Format]bool{},
	}
}

func (b *fakeBackend) Devices() ([]DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DeviceInfo(nil), b.devices...), nil
}

func (b *fakeBackend) setDevices(devices ...DeviceInfo) {
	b.mu.Lock()
	b.devices = devices
	b.mu.Unlock()
}

func (b *fakeBackend) Open(name string, want Format, onData func([]byte), onStop func()) (Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wants = append(b.wants, want)
	if b.openErr != nil {
		return nil, b.openErr
	}
	if name != "" && !b.attachedLocked(name) {
		return nil, errors.New("device not found")
	}
	if b.reject[want] {
		return nil, errors.New("format not supported")
	}
	got := want
	if got == (Format{}) {
		got = b.native
	}
	d := &fakeDevice{name: name, format: got, onData: onData, onStop: onStop}
	b.opened = append(b.opened, d)
	return d, nil
}

func (b *fakeBackend) attachedLocked(name string) bool {
	for _, d := range b.devices {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) last() *fakeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.opened) == 0 {
		return nil
	}
	return b.opened[len(b.opened)-1]
}

func (b *fakeBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.opened)
}

type fakeDevice struct {
	name   string
	format Format
	onData func([]byte)
	onStop func()

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
}

func (d *fakeDevice) Format() Format { return d.format }

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	if d.onStop != nil {
		d.onStop()
	}
	return nil
}

func (d *fakeDevice) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// feed delivers float32 samples as one device callback.
func (d *fakeDevice) feed(samples []float32) {
	d.onData(f32Bytes(samples))
}

func f32Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func s16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

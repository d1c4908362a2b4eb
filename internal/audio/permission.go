package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrNoDevice is returned when no capture device is attached.
var ErrNoDevice = errors.New("audio: no capture device")

// MicrophonePermission answers whether the process may capture audio. There
// is no portable permission API, so a request probes by opening and closing
// a device; an open failure on an attached device counts as denied.
type MicrophonePermission struct {
	backend Backend

	mu      sync.Mutex
	known   bool
	granted bool
}

// NewMicrophonePermission creates a permission provider over backend.
func NewMicrophonePermission(backend Backend) *MicrophonePermission {
	return &MicrophonePermission{backend: backend}
}

// HasMicrophonePermission reports the result of the last request.
func (p *MicrophonePermission) HasMicrophonePermission() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.known && p.granted
}

// RequestMicrophonePermission probes the default device and caches the
// result. It returns ErrNoDevice when nothing is attached.
func (p *MicrophonePermission) RequestMicrophonePermission(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	devices, err := p.backend.Devices()
	if err != nil {
		return false, err
	}
	if len(devices) == 0 {
		p.store(false)
		return false, ErrNoDevice
	}

	dev, err := p.backend.Open("", Format{}, func([]byte) {}, nil)
	if err != nil {
		p.store(false)
		return false, nil
	}
	dev.Close()

	p.store(true)
	return true, nil
}

func (p *MicrophonePermission) store(granted bool) {
	p.mu.Lock()
	p.known = true
	p.granted = granted
	p.mu.Unlock()
}

package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures through miniaudio. Call Close when done.
type MalgoBackend struct {
	ctx *malgo.AllocatedContext
}

// NewMalgoBackend initializes the audio context.
func NewMalgoBackend() (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &MalgoBackend{ctx: ctx}, nil
}

// Devices lists the capture devices.
func (b *MalgoBackend) Devices() ([]DeviceInfo, error) {
	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("listing capture devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, DeviceInfo{Name: info.Name(), Default: info.IsDefault != 0})
	}
	return out, nil
}

// Open initializes a capture device.
func (b *MalgoBackend) Open(name string, want Format, onData func([]byte), onStop func()) (Device, error) {
	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = toMalgoFormat(want.Sample)
	deviceCfg.Capture.Channels = want.Channels
	deviceCfg.SampleRate = want.SampleRate

	if name != "" {
		infos, err := b.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("listing capture devices: %w", err)
		}
		found := false
		for i := range infos {
			if infos[i].Name() == name {
				deviceCfg.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("capture device %q not found", name)
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, _ uint32) {
			onData(pSample)
		},
		Stop: onStop,
	}

	device, err := malgo.InitDevice(b.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("initializing capture device %s: %w", want, err)
	}

	return &malgoDevice{
		dev: device,
		format: Format{
			Sample:     fromMalgoFormat(device.CaptureFormat()),
			Channels:   device.CaptureChannels(),
			SampleRate: device.SampleRate(),
		},
	}, nil
}

// Close releases the audio context.
func (b *MalgoBackend) Close() error {
	if b.ctx == nil {
		return nil
	}
	if err := b.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	b.ctx.Free()
	b.ctx = nil
	return nil
}

type malgoDevice struct {
	dev    *malgo.Device
	format Format
}

func (d *malgoDevice) Format() Format { return d.format }

func (d *malgoDevice) Start() error {
	if err := d.dev.Start(); err != nil {
		return fmt.Errorf("starting capture device: %w", err)
	}
	return nil
}

func (d *malgoDevice) Stop() error {
	if err := d.dev.Stop(); err != nil {
		return fmt.Errorf("stopping capture device: %w", err)
	}
	return nil
}

func (d *malgoDevice) Close() { d.dev.Uninit() }

func toMalgoFormat(f SampleFormat) malgo.FormatType {
	switch f {
	case FormatU8:
		return malgo.FormatU8
	case FormatS16:
		return malgo.FormatS16
	case FormatS24:
		return malgo.FormatS24
	case FormatS32:
		return malgo.FormatS32
	case FormatF32:
		return malgo.FormatF32
	default:
		return malgo.FormatUnknown
	}
}

func fromMalgoFormat(f malgo.FormatType) SampleFormat {
	switch f {
	case malgo.FormatU8:
		return FormatU8
	case malgo.FormatS16:
		return FormatS16
	case malgo.FormatS24:
		return FormatS24
	case malgo.FormatS32:
		return FormatS32
	case malgo.FormatF32:
		return FormatF32
	default:
		return FormatNative
	}
}

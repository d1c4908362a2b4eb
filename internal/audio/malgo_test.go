package audio

import (
	"testing"

	"github.com/gen2brain/malgo"
)

func TestMalgoBackendDevices(t *testing.T) {
	b, err := NewMalgoBackend()
	if err != nil {
		t.Skipf("no audio context available: %v", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	devices, err := b.Devices()
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	for _, d := range devices {
		if d.Name == "" {
			t.Error("device with empty name")
		}
	}
}

func TestMalgoBackendCloseTwice(t *testing.T) {
	b, err := NewMalgoBackend()
	if err != nil {
		t.Skipf("no audio context available: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestMalgoFormatMapping(t *testing.T) {
	for _, f := range []SampleFormat{FormatU8, FormatS16, FormatS24, FormatS32, FormatF32, FormatNative} {
		if got := fromMalgoFormat(toMalgoFormat(f)); got != f {
			t.Errorf("round trip %v = %v", f, got)
		}
	}
	if toMalgoFormat(FormatNative) != malgo.FormatUnknown {
		t.Error("native format should map to malgo.FormatUnknown")
	}
}

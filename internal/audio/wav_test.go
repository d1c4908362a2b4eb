package audio

import (
	"math"
	"path/filepath"
	"testing"
)

func TestWriteReadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug", "capture.wav")

	in := make([]float32, 1600)
	for i := range in {
		in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	in[0] = 2 // clipped to 1

	if err := WriteWAV(path, in, 16000); err != nil {
		t.Fatalf("WriteWAV() error = %v", err)
	}

	out, rate, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("read %d samples, want %d", len(out), len(in))
	}
	if math.Abs(float64(out[0])-1) > 1e-3 {
		t.Errorf("out[0] = %v, want ~1 (clipped)", out[0])
	}
	for i := 1; i < len(in); i++ {
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Fatalf("out[%d] = %v, want ~%v", i, out[i], in[i])
		}
	}
}

func TestReadWAVMissing(t *testing.T) {
	if _, _, err := ReadWAV(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("ReadWAV() should fail for a missing file")
	}
}

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleFormat is the encoding of one PCM sample as delivered by a device.
type SampleFormat int

const (
	FormatNative SampleFormat = iota // let the device choose
	FormatU8
	FormatS16
	FormatS24
	FormatS32
	FormatF32
)

func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	case FormatF32:
		return "f32"
	default:
		return "native"
	}
}

// Size returns the number of bytes per sample, or 0 for FormatNative.
func (f SampleFormat) Size() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32, FormatF32:
		return 4
	default:
		return 0
	}
}

// Format describes a device stream. Zero fields mean "device native".
type Format struct {
	Sample     SampleFormat
	Channels   uint32
	SampleRate uint32
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%dch/%dHz", f.Sample, f.Channels, f.SampleRate)
}

// ErrConversion reports a device buffer that could not be decoded.
var ErrConversion = errors.New("audio: conversion failed")

// converter turns raw device bytes into mono float32 samples at the target
// rate. One converter belongs to one session; it keeps resampler state
// between callbacks and must not be shared.
type converter struct {
	src Format
	rs  resampler
}

func newConverter(src Format, targetRate uint32) (*converter, error) {
	if src.Sample.Size() == 0 || src.Channels == 0 || src.SampleRate == 0 {
		return nil, fmt.Errorf("%w: unresolved device format %s", ErrConversion, src)
	}
	return &converter{
		src: src,
		rs:  resampler{ratio: float64(src.SampleRate) / float64(targetRate)},
	}, nil
}

// Convert decodes one callback worth of interleaved frames.
func (c *converter) Convert(raw []byte) ([]float32, error) {
	frameBytes := c.src.Sample.Size() * int(c.src.Channels)
	if len(raw) == 0 || len(raw)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %s frames", ErrConversion, len(raw), c.src)
	}

	samples := decode(raw, c.src.Sample)
	mono := downmix(samples, int(c.src.Channels))
	return c.rs.process(mono), nil
}

// decode converts little-endian PCM bytes to float32 in [-1, 1].
func decode(data []byte, f SampleFormat) []float32 {
	size := f.Size()
	n := len(data) / size
	out := make([]float32, n)
	for i := range n {
		b := data[i*size : i*size+size]
		switch f {
		case FormatU8:
			out[i] = (float32(b[0]) - 128) / 128
		case FormatS16:
			out[i] = float32(int16(binary.LittleEndian.Uint16(b))) / 32768
		case FormatS24:
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float32(v) / 8388608
		case FormatS32:
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
		case FormatF32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	}
	return out
}

// downmix averages interleaved channels into mono.
func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resampler is a streaming linear interpolator. pos is the read position
// relative to the first sample of the next chunk; -1 addresses prev.
type resampler struct {
	ratio float64 // source rate / target rate
	pos   float64
	prev  float32
}

func (r *resampler) process(in []float32) []float32 {
	if r.ratio == 1 || len(in) == 0 {
		return in
	}

	out := make([]float32, 0, int(float64(len(in))/r.ratio)+1)
	for {
		idx := int(math.Floor(r.pos))
		if idx+1 >= len(in) {
			break
		}
		frac := float32(r.pos - float64(idx))
		s0 := r.prev
		if idx >= 0 {
			s0 = in[idx]
		}
		s1 := in[idx+1]
		out = append(out, s0+(s1-s0)*frac)
		r.pos += r.ratio
	}
	r.pos -= float64(len(in))
	r.prev = in[len(in)-1]
	return out
}

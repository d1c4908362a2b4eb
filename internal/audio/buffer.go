package audio

import "sync"

// SampleBuffer is an append-only run of mono float32 samples at the target
// rate. It is written from the device callback and read from the processing
// side; the lock is held only for the copy.
type SampleBuffer struct {
	mu   sync.Mutex
	data []float32
}

// Append adds samples to the end of the buffer.
func (b *SampleBuffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, samples...)
	b.mu.Unlock()
}

// Snapshot returns a copy of the current contents.
func (b *SampleBuffer) Snapshot() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.data))
	copy(out, b.data)
	return out
}

// Tail returns a copy of at most the last n samples.
func (b *SampleBuffer) Tail(n int) []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := 0
	if n >= 0 && len(b.data) > n {
		start = len(b.data) - n
	}
	out := make([]float32, len(b.data)-start)
	copy(out, b.data[start:])
	return out
}

// Drain returns the contents and empties the buffer, keeping its capacity.
func (b *SampleBuffer) Drain() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// Reset discards all samples.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}

// Len returns the number of buffered samples.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Reserve grows the capacity to at least n samples so the first seconds of
// capture do not reallocate inside the device callback.
func (b *SampleBuffer) Reserve(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cap(b.data) >= n {
		return
	}
	grown := make([]float32, len(b.data), n)
	copy(grown, b.data)
	b.data = grown
}

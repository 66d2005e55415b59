// Package pipeline fuses device samples with pose lookups and fans them out
// to a render consumer and a periodic bus publisher.
package pipeline

import (
	"sync/atomic"

	"github.com/banshee-data/depthbridge/internal/device"
)

type bufferEntry struct {
	sample *device.PointSample
	read   atomic.Bool
}

// SampleBuffer holds the most recent point cloud. Writes replace the held
// sample with a single pointer swap, so the device goroutine never blocks
// and a reader always sees a whole sample. Samples are never mutated after
// Write; readers share them.
type SampleBuffer struct {
	latest      atomic.Pointer[bufferEntry]
	writes      atomic.Uint64
	reads       atomic.Uint64
	overwritten atomic.Uint64
}

// BufferStats is a snapshot of buffer counters.
type BufferStats struct {
	Writes      uint64 `json:"writes"`
	Reads       uint64 `json:"reads"`
	Overwritten uint64 `json:"overwritten"` // replaced before any reader saw them
}

// NewSampleBuffer returns an empty buffer.
func NewSampleBuffer() *SampleBuffer {
	return &SampleBuffer{}
}

// Write replaces the held sample. A nil sample is ignored.
func (b *SampleBuffer) Write(s *device.PointSample) {
	if s == nil {
		return
	}
	old := b.latest.Swap(&bufferEntry{sample: s})
	b.writes.Add(1)
	if old != nil && !old.read.Load() {
		b.overwritten.Add(1)
	}
}

// Read returns the held sample, or false when the buffer is empty.
func (b *SampleBuffer) Read() (*device.PointSample, bool) {
	e := b.latest.Load()
	if e == nil {
		return nil, false
	}
	e.read.Store(true)
	b.reads.Add(1)
	return e.sample, true
}

// Reset empties the buffer.
func (b *SampleBuffer) Reset() {
	b.latest.Store(nil)
}

// Stats returns the buffer counters.
func (b *SampleBuffer) Stats() BufferStats {
	return BufferStats{
		Writes:      b.writes.Load(),
		Reads:       b.reads.Load(),
		Overwritten: b.overwritten.Load(),
	}
}

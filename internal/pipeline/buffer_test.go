package pipeline

import (
	"sync"
	"testing"

	"github.com/banshee-data/depthbridge/internal/device"
)

func TestSampleBuffer_Empty(t *testing.T) {
	b := NewSampleBuffer()
	if s, ok := b.Read(); ok || s != nil {
		t.Fatalf("Read on empty buffer = (%v, %v), want (nil, false)", s, ok)
	}
	b.Write(nil)
	if _, ok := b.Read(); ok {
		t.Fatal("Write(nil) should leave the buffer empty")
	}
}

func TestSampleBuffer_LatestWins(t *testing.T) {
	b := NewSampleBuffer()
	a := &device.PointSample{Timestamp: 1}
	bb := &device.PointSample{Timestamp: 2}

	b.Write(a)
	b.Write(bb)
	got, ok := b.Read()
	if !ok || got != bb {
		t.Fatalf("Read = %v, want sample B", got)
	}
	// Reads do not consume.
	if got2, _ := b.Read(); got2 != bb {
		t.Errorf("second Read = %v, want sample B again", got2)
	}

	st := b.Stats()
	if st.Writes != 2 || st.Overwritten != 1 || st.Reads != 2 {
		t.Errorf("Stats = %+v, want writes=2 overwritten=1 reads=2", st)
	}

	// B was read, so replacing it is not an overwrite.
	b.Write(&device.PointSample{Timestamp: 3})
	if st := b.Stats(); st.Overwritten != 1 {
		t.Errorf("Overwritten = %d, want 1", st.Overwritten)
	}

	b.Reset()
	if _, ok := b.Read(); ok {
		t.Error("Reset should empty the buffer")
	}
}

// Every sample a writer builds is internally consistent: all of its floats
// equal its timestamp. A reader must never observe a mix.
func TestSampleBuffer_NoTearing(t *testing.T) {
	b := NewSampleBuffer()
	const (
		writers = 4
		writes  = 2000
		readers = 4
		points  = 64
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				v := float32(w*writes + i)
				pts := make([]float32, points*3)
				for j := range pts {
					pts[j] = v
				}
				b.Write(&device.PointSample{Timestamp: float64(v), NumPoints: points, Points: pts, FloatsPerPoint: 3})
			}
		}(w)
	}

	errs := make(chan string, readers)
	done := make(chan struct{})
	var rg sync.WaitGroup
	for r := 0; r < readers; r++ {
		rg.Add(1)
		go func() {
			defer rg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s, ok := b.Read()
				if !ok {
					continue
				}
				if len(s.Points) != s.NumPoints*3 {
					errs <- "length does not match NumPoints"
					return
				}
				for _, p := range s.Points {
					if float64(p) != s.Timestamp {
						errs <- "torn sample"
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	rg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
	if got := b.Stats().Writes; got != writers*writes {
		t.Errorf("Writes = %d, want %d", got, writers*writes)
	}
}

// Package render provides the render-side collaborators of the pipeline:
// frame surfaces that drive the pre-frame callback, and two renderer
// variants that hold the fused scene state.
package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthbridge/internal/pipeline"
	"github.com/banshee-data/depthbridge/internal/timeutil"
)

// Surface calls a registered frame callback once per frame on its own
// render goroutine.
type Surface interface {
	RegisterFrameCallback(pipeline.FrameFunc)
}

// LoopSurface is a headless surface that runs frames at a fixed rate.
type LoopSurface struct {
	fps   float64
	clock timeutil.Clock

	mu       sync.Mutex
	callback pipeline.FrameFunc

	frames  atomic.Uint64
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLoopSurface returns a stopped surface. A non-positive fps selects 30.
func NewLoopSurface(fps float64, clock timeutil.Clock) *LoopSurface {
	if fps <= 0 {
		fps = 30
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &LoopSurface{fps: fps, clock: clock}
}

// RegisterFrameCallback sets the function run once per frame.
func (s *LoopSurface) RegisterFrameCallback(fn pipeline.FrameFunc) {
	s.mu.Lock()
	s.callback = fn
	s.mu.Unlock()
}

// Start begins the frame loop.
func (s *LoopSurface) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("surface already running")
	}
	s.stopCh = make(chan struct{})
	ticker := s.clock.NewTicker(time.Duration(float64(time.Second) / s.fps))
	start := s.clock.Now()

	s.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer s.wg.Done()
		defer ticker.Stop()
		last := start
		for {
			select {
			case <-ctx.Done():
				s.running.Store(false)
				return
			case <-stop:
				return
			case now := <-ticker.C():
				s.mu.Lock()
				fn := s.callback
				s.mu.Unlock()
				if fn != nil {
					fn(now.Sub(start), now.Sub(last).Seconds())
				}
				last = now
				s.frames.Add(1)
			}
		}
	}(s.stopCh)
	diagf("render loop started at %.0f fps", s.fps)
	return nil
}

// Stop ends the frame loop and waits for the current frame.
func (s *LoopSurface) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

// Frames returns the number of frames run.
func (s *LoopSurface) Frames() uint64 { return s.frames.Load() }

// ManualSurface runs frames only when Frame is called.
type ManualSurface struct {
	callback  pipeline.FrameFunc
	sceneTime time.Duration
}

// RegisterFrameCallback sets the function run by Frame.
func (s *ManualSurface) RegisterFrameCallback(fn pipeline.FrameFunc) { s.callback = fn }

// Frame advances scene time by delta and runs one frame.
func (s *ManualSurface) Frame(delta time.Duration) {
	s.sceneTime += delta
	if s.callback != nil {
		s.callback(s.sceneTime, delta.Seconds())
	}
}

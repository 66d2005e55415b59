package render

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/pipeline"
)

// MinimalRenderer draws only the point cloud from the device's point of
// view. It has no frustum marker and ignores view mode changes.
type MinimalRenderer struct {
	surface Surface
	cloud   *PointCloud

	mu     sync.RWMutex
	camera pipeline.CameraPose

	rotation  atomic.Int32
	connected atomic.Bool
}

// NewMinimalRenderer renders on surface with a cloud of capacity points.
func NewMinimalRenderer(surface Surface, capacity int, policy CapacityPolicy) *MinimalRenderer {
	return &MinimalRenderer{surface: surface, cloud: NewPointCloud(capacity, policy)}
}

// SetupRenderer registers fn as the surface frame callback.
func (r *MinimalRenderer) SetupRenderer(fn pipeline.FrameFunc) error {
	if r.surface == nil {
		return errors.New("minimal renderer has no surface")
	}
	r.surface.RegisterFrameCallback(fn)
	return nil
}

// ApplyCloud replaces the rendered cloud.
func (r *MinimalRenderer) ApplyCloud(f pipeline.RenderFrame) error {
	return r.cloud.Update(f.Sample, f.Position, f.Orientation)
}

// ApplyCameraPose stores p. There is no camera to move.
func (r *MinimalRenderer) ApplyCameraPose(p pipeline.CameraPose) {
	r.mu.Lock()
	r.camera = p
	r.mu.Unlock()
}

// CameraPose returns the last camera pose applied.
func (r *MinimalRenderer) CameraPose() pipeline.CameraPose {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.camera
}

// SetConnected records the session connection state.
func (r *MinimalRenderer) SetConnected(c bool) { r.connected.Store(c) }

// Connected reports the last value passed to SetConnected.
func (r *MinimalRenderer) Connected() bool { return r.connected.Load() }

// SetDisplayRotation sets the rotation used for camera lookups.
func (r *MinimalRenderer) SetDisplayRotation(rot device.DisplayRotation) {
	r.rotation.Store(int32(rot))
}

// DisplayRotation returns the current display rotation.
func (r *MinimalRenderer) DisplayRotation() device.DisplayRotation {
	return device.DisplayRotation(r.rotation.Load())
}

// SetViewMode is a no-op and ViewMode is always first-person.
func (r *MinimalRenderer) SetViewMode(pipeline.ViewMode) {}
func (r *MinimalRenderer) ViewMode() pipeline.ViewMode   { return pipeline.ViewFirstPerson }

// Snapshot copies the rendered cloud.
func (r *MinimalRenderer) Snapshot() CloudSnapshot { return r.cloud.Snapshot() }

// Cloud returns the rendered point cloud.
func (r *MinimalRenderer) Cloud() *PointCloud { return r.cloud }

// New builds the renderer variant named by kind ("scene" or "minimal").
func New(kind string, surface Surface, capacity int, policy CapacityPolicy) (Variant, error) {
	switch kind {
	case "", "scene":
		return NewSceneRenderer(surface, capacity, policy), nil
	case "minimal":
		return NewMinimalRenderer(surface, capacity, policy), nil
	}
	return nil, errors.New("unknown renderer " + kind)
}

// Variant is a pipeline.Renderer that exposes its cloud for inspection.
type Variant interface {
	pipeline.Renderer
	Snapshot() CloudSnapshot
	Cloud() *PointCloud
}

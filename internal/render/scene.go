package render

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/pipeline"
)

// SceneRenderer is the full renderer: a point cloud object, a frustum marker
// for the device and a camera that follows the selected view mode.
type SceneRenderer struct {
	surface  Surface
	cloud    *PointCloud
	frustum  *FrustumAxes
	view     *ViewHandler
	rotation atomic.Int32

	connected atomic.Bool
	frames    atomic.Uint64
}

// NewSceneRenderer renders on surface with a cloud of capacity points.
func NewSceneRenderer(surface Surface, capacity int, policy CapacityPolicy) *SceneRenderer {
	return &SceneRenderer{
		surface: surface,
		cloud:   NewPointCloud(capacity, policy),
		frustum: &FrustumAxes{},
		view:    NewViewHandler(),
	}
}

// SetupRenderer registers fn to run before every frame the surface draws.
func (r *SceneRenderer) SetupRenderer(fn pipeline.FrameFunc) error {
	if r.surface == nil {
		return errors.New("scene renderer has no surface")
	}
	r.surface.RegisterFrameCallback(func(sceneTime time.Duration, delta float64) {
		r.frames.Add(1)
		fn(sceneTime, delta)
	})
	return nil
}

// ApplyCloud places the sample in the scene at the frame pose.
func (r *SceneRenderer) ApplyCloud(f pipeline.RenderFrame) error {
	if err := r.cloud.Update(f.Sample, f.Position, f.Orientation); err != nil {
		return err
	}
	tracef("scene cloud t=%.3f points=%d", f.Timestamp, f.Sample.CompletePoints())
	return nil
}

// ApplyCameraPose moves the frustum marker and the view camera.
func (r *SceneRenderer) ApplyCameraPose(p pipeline.CameraPose) {
	r.frustum.Set(p)
	r.view.UpdateCamera(p.Position, p.Orientation)
}

// SetConnected records whether the sensor session is connected.
func (r *SceneRenderer) SetConnected(c bool) {
	if r.connected.Swap(c) != c {
		diagf("scene renderer connected=%v", c)
	}
}

// Connected reports the last value passed to SetConnected.
func (r *SceneRenderer) Connected() bool { return r.connected.Load() }

// SetDisplayRotation sets the rotation used for camera lookups.
func (r *SceneRenderer) SetDisplayRotation(rot device.DisplayRotation) {
	r.rotation.Store(int32(rot))
}

// DisplayRotation returns the current display rotation.
func (r *SceneRenderer) DisplayRotation() device.DisplayRotation {
	return device.DisplayRotation(r.rotation.Load())
}

// SetViewMode switches the camera between first-person, top-down and
// third-person. ViewMode returns the active mode.
func (r *SceneRenderer) SetViewMode(m pipeline.ViewMode) { r.view.SetMode(m) }
func (r *SceneRenderer) ViewMode() pipeline.ViewMode     { return r.view.Mode() }

// Snapshot copies the scene cloud.
func (r *SceneRenderer) Snapshot() CloudSnapshot { return r.cloud.Snapshot() }

// Camera returns the scene camera.
func (r *SceneRenderer) Camera() Camera { return r.view.Camera() }

// Frustum returns the frustum marker.
func (r *SceneRenderer) Frustum() *FrustumAxes { return r.frustum }

// Frames returns how many frames the surface has run.
func (r *SceneRenderer) Frames() uint64 { return r.frames.Load() }

// Cloud returns the scene point cloud.
func (r *SceneRenderer) Cloud() *PointCloud { return r.cloud }

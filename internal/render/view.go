package render

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthbridge/internal/geom"
	"github.com/banshee-data/depthbridge/internal/pipeline"
)

// Camera offsets for the non first-person views, in metres.
const (
	TopDownHeight       = 5.0
	ThirdPersonDistance = 3.0
	ThirdPersonHeight   = 1.5
)

// FrustumAxes is the marker drawn at the device pose.
type FrustumAxes struct {
	mu          sync.RWMutex
	position    r3.Vec
	orientation quat.Number
	updates     uint64
}

// Set moves the marker.
func (f *FrustumAxes) Set(p pipeline.CameraPose) {
	f.mu.Lock()
	f.position = p.Position
	f.orientation = p.Orientation
	f.updates++
	f.mu.Unlock()
}

// Pose returns the marker pose and how many times it has moved.
func (f *FrustumAxes) Pose() (r3.Vec, quat.Number, uint64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.position, f.orientation, f.updates
}

// Camera is the scene camera.
type Camera struct {
	Eye         r3.Vec
	LookAt      r3.Vec
	Orientation quat.Number
}

// ViewHandler places the scene camera relative to the device for the
// selected view mode.
type ViewHandler struct {
	mu     sync.RWMutex
	mode   pipeline.ViewMode
	zoom   float64
	camera Camera
}

// NewViewHandler starts in first-person view.
func NewViewHandler() *ViewHandler {
	return &ViewHandler{zoom: 1, camera: Camera{Orientation: quat.Number{Real: 1}}}
}

// SetMode selects the view mode.
func (v *ViewHandler) SetMode(m pipeline.ViewMode) {
	v.mu.Lock()
	v.mode = m
	v.mu.Unlock()
}

// Mode returns the view mode.
func (v *ViewHandler) Mode() pipeline.ViewMode {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mode
}

// SetZoom scales the top-down and third-person distances, clamped to
// [0.2, 10].
func (v *ViewHandler) SetZoom(z float64) {
	if z < 0.2 {
		z = 0.2
	} else if z > 10 {
		z = 10
	}
	v.mu.Lock()
	v.zoom = z
	v.mu.Unlock()
}

// UpdateCamera follows a device at position with scene orientation q.
func (v *ViewHandler) UpdateCamera(position r3.Vec, q quat.Number) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.mode {
	case pipeline.ViewTopDown:
		// Looking straight down the -Y axis.
		v.camera = Camera{
			Eye:         r3.Add(position, r3.Vec{Y: TopDownHeight * v.zoom}),
			LookAt:      position,
			Orientation: geom.AxisAngle(r3.Vec{X: 1}, -math.Pi/2),
		}
	case pipeline.ViewThirdPerson:
		offset := r3.Vec{Y: ThirdPersonHeight * v.zoom, Z: ThirdPersonDistance * v.zoom}
		v.camera = Camera{
			Eye:         r3.Add(position, offset),
			LookAt:      position,
			Orientation: quat.Number{Real: 1},
		}
	default:
		v.camera = Camera{Eye: position, LookAt: position, Orientation: q}
	}
}

// Camera returns the current scene camera.
func (v *ViewHandler) Camera() Camera {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.camera
}

package pipeline

import (
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthbridge/internal/device"
)

// RenderFrame is a point cloud placed in the scene. Orientation is already
// in the scene-graph convention.
type RenderFrame struct {
	Timestamp   float64
	Sample      *device.PointSample
	Position    r3.Vec
	Orientation quat.Number
}

// CameraPose places the camera and frustum marker.
type CameraPose struct {
	Timestamp   float64
	Position    r3.Vec
	Orientation quat.Number
}

// FrameFunc is called once per rendered frame on the render goroutine,
// before drawing.
type FrameFunc func(sceneTime time.Duration, deltaTime float64)

// ViewMode selects the camera behaviour.
type ViewMode int

const (
	ViewFirstPerson ViewMode = iota
	ViewTopDown
	ViewThirdPerson
)

func (v ViewMode) String() string {
	switch v {
	case ViewFirstPerson:
		return "first_person"
	case ViewTopDown:
		return "top_down"
	case ViewThirdPerson:
		return "third_person"
	}
	return "unknown"
}

// RenderTarget receives fused geometry. Both apply calls run on the render
// goroutine.
type RenderTarget interface {
	// ApplyCloud replaces the rendered cloud's geometry and pose in one step.
	ApplyCloud(RenderFrame) error
	ApplyCameraPose(CameraPose)
	DisplayRotation() device.DisplayRotation
}

// Renderer is a render variant: it owns a surface and a RenderTarget.
type Renderer interface {
	RenderTarget

	// SetupRenderer registers fn as the pre-frame callback of the surface.
	SetupRenderer(fn FrameFunc) error
	SetConnected(bool)
	SetDisplayRotation(device.DisplayRotation)
	SetViewMode(ViewMode)
	ViewMode() ViewMode
}

package device

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthbridge/internal/geom"
)

var (
	xAxis = r3.Vec{X: 1}
	zAxis = r3.Vec{Z: 1}

	// Tango world frames are Z up; OpenGL world frames are Y up.
	tangoToGLWorld = geom.FromPose(r3.Vec{}, geom.AxisAngle(xAxis, -math.Pi/2))
	// Tango camera frames are Y down, Z forward; OpenGL cameras look down -Z.
	tangoToGLCamera = geom.FromPose(r3.Vec{}, geom.AxisAngle(xAxis, math.Pi))
)

// baseConversion maps coordinates expressed in a Tango base frame into e.
func baseConversion(e Engine) geom.Mat4 {
	if e == EngineTango {
		return geom.Identity()
	}
	return tangoToGLWorld
}

// targetConversion maps coordinates expressed in engine e into the Tango
// target frame f.
func targetConversion(f Frame, e Engine) geom.Mat4 {
	if e == EngineTango || !f.IsCamera() {
		return geom.Identity()
	}
	return tangoToGLCamera
}

// displayConversion rotates the target frame about its Z axis to follow the
// screen orientation.
func displayConversion(r DisplayRotation) geom.Mat4 {
	if r <= Rotation0 {
		return geom.Identity()
	}
	return geom.FromPose(r3.Vec{}, geom.AxisAngle(zAxis, float64(r)*math.Pi/2))
}

// Convert re-expresses a transform computed in Tango conventions for the
// engines and display rotation named by q.
func Convert(tango geom.Mat4, q TransformQuery) geom.Mat4 {
	m := baseConversion(q.BaseEngine).Mul(tango)
	m = m.Mul(targetConversion(q.Target, q.TargetEngine))
	return m.Mul(displayConversion(q.Rotation))
}

// Package geom holds the rigid-transform helpers shared by the device,
// pipeline and render packages. Matrices are 4x4 homogeneous transforms in
// column-major order, the layout depth-sensor SDKs hand out.
package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RigidTolerance bounds the orthonormality and determinant checks in IsRigid.
const RigidTolerance = 0.01

// Mat4 is a 4x4 homogeneous transform stored column-major.
type Mat4 [16]float64

// Identity returns the identity transform.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// At returns the element at row, col.
func (m Mat4) At(row, col int) float64 { return m[col*4+row] }

func (m *Mat4) set(row, col int, v float64) { m[col*4+row] = v }

// FromPose builds a transform that rotates by q then translates by t.
// q need not be normalised.
func FromPose(t r3.Vec, q quat.Number) Mat4 {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	m := Identity()
	m.set(0, 0, 1-2*(y*y+z*z))
	m.set(0, 1, 2*(x*y-w*z))
	m.set(0, 2, 2*(x*z+w*y))
	m.set(1, 0, 2*(x*y+w*z))
	m.set(1, 1, 1-2*(x*x+z*z))
	m.set(1, 2, 2*(y*z-w*x))
	m.set(2, 0, 2*(x*z-w*y))
	m.set(2, 1, 2*(y*z+w*x))
	m.set(2, 2, 1-2*(x*x+y*y))
	m.set(0, 3, t.X)
	m.set(1, 3, t.Y)
	m.set(2, 3, t.Z)
	return m
}

// Translation returns the translation column.
func (m Mat4) Translation() r3.Vec {
	return r3.Vec{X: m[12], Y: m[13], Z: m[14]}
}

// Rotation extracts the unit quaternion of the upper 3x3 block using
// Shepperd's method. The result has a non-negative real part.
func (m Mat4) Rotation() quat.Number {
	r00, r01, r02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	r10, r11, r12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	r20, r21, r22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	var q quat.Number
	switch trace := r00 + r11 + r22; {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (r21 - r12) / s, Jmag: (r02 - r20) / s, Kmag: (r10 - r01) / s}
	case r00 > r11 && r00 > r22:
		s := math.Sqrt(1+r00-r11-r22) * 2
		q = quat.Number{Real: (r21 - r12) / s, Imag: s / 4, Jmag: (r01 + r10) / s, Kmag: (r02 + r20) / s}
	case r11 > r22:
		s := math.Sqrt(1+r11-r00-r22) * 2
		q = quat.Number{Real: (r02 - r20) / s, Imag: (r01 + r10) / s, Jmag: s / 4, Kmag: (r12 + r21) / s}
	default:
		s := math.Sqrt(1+r22-r00-r11) * 2
		q = quat.Number{Real: (r10 - r01) / s, Imag: (r02 + r20) / s, Jmag: (r12 + r21) / s, Kmag: s / 4}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return Normalize(q)
}

// Mul returns m * o, so the result applies o first.
func (m Mat4) Mul(o Mat4) Mat4 {
	var p mat.Dense
	p.Mul(m.dense(), o.dense())
	var out Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out.set(r, c, p.At(r, c))
		}
	}
	return out
}

// InverseRigid returns the inverse of a rigid transform.
func (m Mat4) InverseRigid() Mat4 {
	out := Identity()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.set(r, c, m.At(c, r))
		}
	}
	t := m.Translation()
	for r := 0; r < 3; r++ {
		out.set(r, 3, -(out.At(r, 0)*t.X + out.At(r, 1)*t.Y + out.At(r, 2)*t.Z))
	}
	return out
}

// Apply transforms point p.
func (m Mat4) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// IsRigid reports whether m is a proper rigid transform: orthonormal
// rotation block with determinant 1 and a bottom row of [0 0 0 1].
func (m Mat4) IsRigid() bool {
	if m[3] != 0 || m[7] != 0 || m[11] != 0 || math.Abs(m[15]-1) > 0.001 {
		return false
	}
	r := mat.NewDense(3, 3, []float64{
		m.At(0, 0), m.At(0, 1), m.At(0, 2),
		m.At(1, 0), m.At(1, 1), m.At(1, 2),
		m.At(2, 0), m.At(2, 1), m.At(2, 2),
	})
	if math.Abs(mat.Det(r)-1) > RigidTolerance {
		return false
	}
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	eye := mat.NewDiagDense(3, []float64{1, 1, 1})
	return mat.EqualApprox(&rtr, eye, RigidTolerance)
}

func (m Mat4) dense() *mat.Dense {
	data := make([]float64, 16)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			data[r*4+c] = m.At(r, c)
		}
	}
	return mat.NewDense(4, 4, data)
}

// Conjugate returns the quaternion conjugate. For a unit quaternion this is
// the inverse rotation, which converts between the device's right-handed
// convention and the left-handed convention of the scene graph.
func Conjugate(q quat.Number) quat.Number { return quat.Conj(q) }

// Normalize scales q to unit length. The zero quaternion maps to identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// AxisAngle returns the unit quaternion rotating by angle radians about axis.
func AxisAngle(axis r3.Vec, angle float64) quat.Number {
	return quat.Number(r3.NewRotation(angle, axis))
}

// Rotate applies unit quaternion q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	return r3.Rotation(q).Rotate(v)
}

// QuatFromXYZW converts the x, y, z, w array layout used on the wire.
func QuatFromXYZW(v [4]float64) quat.Number {
	return quat.Number{Real: v[3], Imag: v[0], Jmag: v[1], Kmag: v[2]}
}

// QuatToXYZW converts q to the x, y, z, w array layout.
func QuatToXYZW(q quat.Number) [4]float64 {
	return [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// Vec3 converts an array triple to r3.Vec.
func Vec3(v [3]float64) r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

// Array3 converts v to an array triple.
func Array3(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

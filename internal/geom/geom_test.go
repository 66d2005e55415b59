package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const tol = 1e-9

func quatNear(t *testing.T, want, got quat.Number) {
	t.Helper()
	assert.InDelta(t, want.Real, got.Real, tol, "w")
	assert.InDelta(t, want.Imag, got.Imag, tol, "x")
	assert.InDelta(t, want.Jmag, got.Jmag, tol, "y")
	assert.InDelta(t, want.Kmag, got.Kmag, tol, "z")
}

func TestFromPoseRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		axis  r3.Vec
		angle float64
	}{
		{"identity", r3.Vec{Z: 1}, 0},
		{"yaw 90", r3.Vec{Z: 1}, math.Pi / 2},
		{"roll 180", r3.Vec{X: 1}, math.Pi},
		{"oblique", r3.Vec{X: 1, Y: 2, Z: -1}, 2.1},
		{"pitch near 180", r3.Vec{Y: 1}, math.Pi - 0.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := AxisAngle(tc.axis, tc.angle)
			if q.Real < 0 {
				q = quat.Scale(-1, q)
			}
			tr := r3.Vec{X: 1.5, Y: -2, Z: 0.25}
			m := FromPose(tr, q)

			require.True(t, m.IsRigid())
			assert.Equal(t, tr, m.Translation())
			quatNear(t, q, m.Rotation())
		})
	}
}

func TestApplyMatchesRotate(t *testing.T) {
	q := AxisAngle(r3.Vec{Z: 1}, math.Pi/2)
	m := FromPose(r3.Vec{X: 10}, q)

	got := m.Apply(r3.Vec{X: 1})
	assert.InDelta(t, 10, got.X, tol)
	assert.InDelta(t, 1, got.Y, tol)
	assert.InDelta(t, 0, got.Z, tol)

	rot := Rotate(q, r3.Vec{X: 1})
	assert.InDelta(t, 0, rot.X, tol)
	assert.InDelta(t, 1, rot.Y, tol)
}

func TestMulComposes(t *testing.T) {
	a := FromPose(r3.Vec{X: 1}, quat.Number{Real: 1})
	b := FromPose(r3.Vec{}, AxisAngle(r3.Vec{Z: 1}, math.Pi/2))

	// a*b rotates first, then translates.
	p := a.Mul(b).Apply(r3.Vec{X: 1})
	assert.InDelta(t, 1, p.X, tol)
	assert.InDelta(t, 1, p.Y, tol)

	assert.Equal(t, a, a.Mul(Identity()))
}

func TestColumnMajorLayout(t *testing.T) {
	m := FromPose(r3.Vec{X: 4, Y: 5, Z: 6}, quat.Number{Real: 1})
	assert.Equal(t, 4.0, m[12])
	assert.Equal(t, 5.0, m[13])
	assert.Equal(t, 6.0, m[14])
	assert.Equal(t, m[12], m.At(0, 3))
}

func TestIsRigid(t *testing.T) {
	assert.True(t, Identity().IsRigid())

	scaled := Identity()
	scaled[0] = 2
	assert.False(t, scaled.IsRigid(), "scaled rotation block")

	reflect := Identity()
	reflect[0] = -1
	assert.False(t, reflect.IsRigid(), "reflection has det -1")

	bottom := Identity()
	bottom[3] = 1
	assert.False(t, bottom.IsRigid(), "bottom row must be 0 0 0 1")

	var zero Mat4
	assert.False(t, zero.IsRigid())
}

func TestConjugate(t *testing.T) {
	q := Normalize(quat.Number{Real: 0.7, Imag: 0.1, Jmag: -0.2, Kmag: 0.3})
	c := Conjugate(q)

	assert.Equal(t, q.Real, c.Real)
	assert.Equal(t, -q.Imag, c.Imag)
	assert.Equal(t, -q.Jmag, c.Jmag)
	assert.Equal(t, -q.Kmag, c.Kmag)
	assert.Equal(t, q, Conjugate(c), "double conjugation restores the original")

	// q * conj(q) is the identity rotation for unit q.
	quatNear(t, quat.Number{Real: 1}, quat.Mul(q, c))
}

func TestNormalizeZero(t *testing.T) {
	assert.Equal(t, quat.Number{Real: 1}, Normalize(quat.Number{}))
}

func TestXYZWConversions(t *testing.T) {
	arr := [4]float64{0.1, 0.2, 0.3, 0.9}
	q := QuatFromXYZW(arr)
	assert.Equal(t, 0.9, q.Real)
	assert.Equal(t, arr, QuatToXYZW(q))

	v := [3]float64{1, 2, 3}
	assert.Equal(t, v, Array3(Vec3(v)))
}

func TestInverseRigid(t *testing.T) {
	m := FromPose(r3.Vec{X: 1, Y: -2, Z: 3}, AxisAngle(r3.Vec{X: 1, Y: 1}, 0.7))
	p := r3.Vec{X: 0.3, Y: 0.2, Z: -0.9}

	back := m.InverseRigid().Apply(m.Apply(p))
	assert.InDelta(t, p.X, back.X, tol)
	assert.InDelta(t, p.Y, back.Y, tol)
	assert.InDelta(t, p.Z, back.Z, tol)

	id := m.Mul(m.InverseRigid())
	for i := range id {
		assert.InDelta(t, Identity()[i], id[i], tol, "element %d", i)
	}
}

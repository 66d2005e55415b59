package render

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/geom"
)

// DefaultMaxPoints is the point capacity of a scene cloud.
const DefaultMaxPoints = 60000

// ErrCapacityExceeded is returned under CapacityStrict when a sample has
// more points than the cloud can hold.
var ErrCapacityExceeded = errors.New("point cloud capacity exceeded")

// CapacityPolicy decides what happens to oversize samples.
type CapacityPolicy int

const (
	// CapacityTruncate keeps the first capacity points and counts a violation.
	CapacityTruncate CapacityPolicy = iota
	// CapacityStrict rejects the sample and leaves the cloud unchanged.
	CapacityStrict
)

// ParseCapacityPolicy accepts "truncate" and "strict".
func ParseCapacityPolicy(s string) (CapacityPolicy, error) {
	switch strings.ToLower(s) {
	case "", "truncate":
		return CapacityTruncate, nil
	case "strict":
		return CapacityStrict, nil
	}
	return CapacityTruncate, fmt.Errorf("unknown capacity policy %q", s)
}

func (p CapacityPolicy) String() string {
	if p == CapacityStrict {
		return "strict"
	}
	return "truncate"
}

// PointCloud is the scene object holding the latest fused cloud. Geometry
// and pose are replaced together.
type PointCloud struct {
	capacity int
	policy   CapacityPolicy

	mu          sync.RWMutex
	points      []float32 // XYZ triples, device frame
	count       int
	position    r3.Vec
	orientation quat.Number
	timestamp   float64
	version     uint64
	violations  uint64
}

// NewPointCloud allocates a cloud for capacity points.
func NewPointCloud(capacity int, policy CapacityPolicy) *PointCloud {
	if capacity <= 0 {
		capacity = DefaultMaxPoints
	}
	return &PointCloud{
		capacity:    capacity,
		policy:      policy,
		points:      make([]float32, capacity*3),
		orientation: quat.Number{Real: 1},
	}
}

// Update replaces geometry and pose from f.
func (c *PointCloud) Update(f *device.PointSample, position r3.Vec, orientation quat.Number) error {
	n := f.CompletePoints()

	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.capacity {
		c.violations++
		if c.policy == CapacityStrict {
			return fmt.Errorf("%w: %d points, capacity %d", ErrCapacityExceeded, n, c.capacity)
		}
		opsf("point cloud truncated from %d to %d points", n, c.capacity)
		n = c.capacity
	}
	stride := f.Stride()
	for i := 0; i < n; i++ {
		copy(c.points[i*3:i*3+3], f.Points[i*stride:i*stride+3])
	}
	c.count = n
	c.position = position
	c.orientation = orientation
	c.timestamp = f.Timestamp
	c.version++
	return nil
}

// CloudSnapshot is a copy of the cloud's state.
type CloudSnapshot struct {
	Timestamp   float64
	Count       int
	Points      []float32
	Position    r3.Vec
	Orientation quat.Number // scene-graph convention
	Version     uint64
	Violations  uint64
}

// Snapshot copies the current state.
func (c *PointCloud) Snapshot() CloudSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CloudSnapshot{
		Timestamp:   c.timestamp,
		Count:       c.count,
		Points:      append([]float32(nil), c.points[:c.count*3]...),
		Position:    c.position,
		Orientation: c.orientation,
		Version:     c.version,
		Violations:  c.violations,
	}
}

// WorldPoints places up to limit points of the snapshot in the world frame.
// A non-positive limit returns every point.
func (s CloudSnapshot) WorldPoints(limit int) []r3.Vec {
	n := s.Count
	step := 1
	if limit > 0 && n > limit {
		step = (n + limit - 1) / limit
	}
	// The stored orientation is conjugated for the scene graph; undo it to
	// rotate points.
	m := geom.FromPose(s.Position, geom.Conjugate(s.Orientation))
	out := make([]r3.Vec, 0, n/step+1)
	for i := 0; i < n; i += step {
		p := r3.Vec{X: float64(s.Points[i*3]), Y: float64(s.Points[i*3+1]), Z: float64(s.Points[i*3+2])}
		out = append(out, m.Apply(p))
	}
	return out
}

// Capacity returns the point capacity.
func (c *PointCloud) Capacity() int { return c.capacity }

// Policy returns the capacity policy.
func (c *PointCloud) Policy() CapacityPolicy { return c.policy }

// Violations returns how many samples exceeded capacity.
func (c *PointCloud) Violations() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.violations
}

package device

import (
	"fmt"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthbridge/internal/geom"
)

// PoseStatus is the tracking status attached to every pose and transform.
type PoseStatus int

const (
	PoseInitializing PoseStatus = iota
	PoseValid
	PoseInvalid
	PoseUnknown
)

func (s PoseStatus) String() string {
	switch s {
	case PoseInitializing:
		return "initializing"
	case PoseValid:
		return "valid"
	case PoseInvalid:
		return "invalid"
	case PoseUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("PoseStatus(%d)", int(s))
	}
}

// Frame names a coordinate frame known to the device.
type Frame int

const (
	FrameStartOfService Frame = iota
	FrameDevice
	FrameCameraDepth
	FrameCameraColor
	FrameAreaDescription
)

func (f Frame) String() string {
	switch f {
	case FrameStartOfService:
		return "start_of_service"
	case FrameDevice:
		return "device"
	case FrameCameraDepth:
		return "camera_depth"
	case FrameCameraColor:
		return "camera_color"
	case FrameAreaDescription:
		return "area_description"
	default:
		return fmt.Sprintf("Frame(%d)", int(f))
	}
}

// IsCamera reports whether f is a camera frame (Z forward, Y down).
func (f Frame) IsCamera() bool {
	return f == FrameCameraDepth || f == FrameCameraColor
}

// Engine is the coordinate convention a transform is expressed in.
type Engine int

const (
	// EngineTango is the device native convention: right-handed, Z up for
	// world frames, Z forward for camera frames.
	EngineTango Engine = iota
	// EngineOpenGL is right-handed, Y up.
	EngineOpenGL
	// EngineLeftHanded is the scene-graph convention. Its orientations are
	// the conjugate of the OpenGL ones.
	EngineLeftHanded
)

func (e Engine) String() string {
	switch e {
	case EngineTango:
		return "tango"
	case EngineOpenGL:
		return "opengl"
	case EngineLeftHanded:
		return "left_handed"
	default:
		return fmt.Sprintf("Engine(%d)", int(e))
	}
}

// DisplayRotation is the screen rotation applied to a query.
type DisplayRotation int

const (
	RotationIgnored DisplayRotation = -1
	Rotation0       DisplayRotation = 0
	Rotation90      DisplayRotation = 1
	Rotation180     DisplayRotation = 2
	Rotation270     DisplayRotation = 3
)

// ParseDisplayRotation maps degrees (0, 90, 180, 270) to a DisplayRotation.
func ParseDisplayRotation(degrees int) (DisplayRotation, error) {
	switch degrees {
	case 0:
		return Rotation0, nil
	case 90:
		return Rotation90, nil
	case 180:
		return Rotation180, nil
	case 270:
		return Rotation270, nil
	}
	return RotationIgnored, fmt.Errorf("invalid display rotation %d: must be 0, 90, 180 or 270", degrees)
}

// FramePair is a base/target pair a listener subscribes to.
type FramePair struct {
	Base   Frame
	Target Frame
}

// PoseSample is the pose of Target relative to Base at Timestamp.
type PoseSample struct {
	Timestamp   float64
	Base        Frame
	Target      Frame
	Translation [3]float64
	Rotation    [4]float64 // x, y, z, w
	Status      PoseStatus
}

// Quat returns the rotation as a gonum quaternion.
func (p PoseSample) Quat() quat.Number { return geom.QuatFromXYZW(p.Rotation) }

// Position returns the translation as an r3.Vec.
func (p PoseSample) Position() r3.Vec { return geom.Vec3(p.Translation) }

// PointSample is one point cloud capture. Points is a flat array with
// FloatsPerPoint values per point (3 for XYZ, 4 for XYZ plus confidence).
// A sample is never modified after it has been delivered.
type PointSample struct {
	Timestamp      float64
	NumPoints      int
	Points         []float32
	FloatsPerPoint int
}

// Stride returns FloatsPerPoint, treating unset as 3.
func (s *PointSample) Stride() int {
	if s.FloatsPerPoint <= 0 {
		return 3
	}
	return s.FloatsPerPoint
}

// CompletePoints returns how many whole points Points holds, bounded by
// NumPoints when it is set.
func (s *PointSample) CompletePoints() int {
	if s == nil {
		return 0
	}
	stride := s.Stride()
	if stride < 3 {
		return 0
	}
	n := len(s.Points) / stride
	if s.NumPoints > 0 && s.NumPoints < n {
		n = s.NumPoints
	}
	return n
}

// Point returns the XYZ of point i.
func (s *PointSample) Point(i int) (x, y, z float32) {
	base := i * s.Stride()
	return s.Points[base], s.Points[base+1], s.Points[base+2]
}

// AverageDepth returns the mean Z over complete points, or 0 when empty.
func (s *PointSample) AverageDepth() float64 {
	n := s.CompletePoints()
	if n == 0 {
		return 0
	}
	stride := s.Stride()
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(s.Points[i*stride+2])
	}
	return sum / float64(n)
}

// TransformResult is the answer to a TransformQuery.
type TransformResult struct {
	Timestamp float64
	Matrix    geom.Mat4 // column-major
	Status    PoseStatus
}

// Valid reports whether the transform may be used.
func (t TransformResult) Valid() bool { return t.Status == PoseValid }

// Translation returns the translation column of Matrix.
func (t TransformResult) Translation() r3.Vec { return t.Matrix.Translation() }

// Rotation returns the rotation of Matrix as a unit quaternion.
func (t TransformResult) Rotation() quat.Number { return t.Matrix.Rotation() }

// TransformQuery asks for the transform of Target relative to Base.
// A zero Timestamp asks for the most recent pose.
type TransformQuery struct {
	Timestamp    float64
	Base         Frame
	Target       Frame
	BaseEngine   Engine
	TargetEngine Engine
	Rotation     DisplayRotation
}

func (q TransformQuery) String() string {
	return fmt.Sprintf("%s->%s@%.3f (%s/%s rot=%d)", q.Base, q.Target, q.Timestamp, q.BaseEngine, q.TargetEngine, q.Rotation)
}

// EventType classifies device events.
type EventType int

const (
	EventUnknown EventType = iota
	EventGeneral
	EventFisheyeCamera
	EventColorCamera
	EventIMU
	EventFeatureTracking
	EventAreaLearning
)

func (t EventType) String() string {
	switch t {
	case EventGeneral:
		return "general"
	case EventFisheyeCamera:
		return "fisheye_camera"
	case EventColorCamera:
		return "color_camera"
	case EventIMU:
		return "imu"
	case EventFeatureTracking:
		return "feature_tracking"
	case EventAreaLearning:
		return "area_learning"
	default:
		return "unknown"
	}
}

// Event keys emitted by devices.
const (
	KeyFisheyeOverExposed  = "FisheyeOverExposed"
	KeyFisheyeUnderExposed = "FisheyeUnderExposed"
	KeyTooFewFeatures      = "TooFewFeaturesTracked"
	KeyLyingOnSurface      = "DeviceLyingOnSurface"
	KeyServiceException    = "TangoServiceException"
)

// Event is an advisory device event.
type Event struct {
	Timestamp float64
	Type      EventType
	Key       string
	Value     string
}

// DepthMode selects the depth output format.
type DepthMode int

const (
	DepthModePointCloud DepthMode = iota
	DepthModeXYZij
)

// Config is applied by Connect.
type Config struct {
	DepthEnabled   bool
	DepthMode      DepthMode
	AutoRecovery   bool
	MotionTracking bool
}

// DefaultConfig returns the configuration the session uses: depth on in
// point cloud mode with auto recovery.
func DefaultConfig() Config {
	return Config{
		DepthEnabled:   true,
		DepthMode:      DepthModePointCloud,
		AutoRecovery:   true,
		MotionTracking: true,
	}
}

// Package bus carries pipeline output to an external messaging bus. It owns
// the outgoing message shapes, their codecs and the sink implementations.
package bus

import (
	"math"
	"time"
)

// Message is anything a Sink can publish.
type Message interface {
	MessageType() string
}

// Time is a bus timestamp split into seconds and nanoseconds.
type Time struct {
	Sec     int32  `json:"sec"`
	Nanosec uint32 `json:"nanosec"`
}

// StampFromSeconds converts fractional seconds to a Time. Negative and
// non-finite inputs map to the zero Time.
func StampFromSeconds(s float64) Time {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return Time{}
	}
	sec := math.Floor(s)
	ns := math.Round((s - sec) * 1e9)
	if ns >= 1e9 {
		sec++
		ns = 0
	}
	return Time{Sec: int32(sec), Nanosec: uint32(ns)}
}

// StampFromTime converts a wall clock time to a Time.
func StampFromTime(t time.Time) Time {
	return Time{Sec: int32(t.Unix()), Nanosec: uint32(t.Nanosecond())}
}

// Seconds returns t as fractional seconds.
func (t Time) Seconds() float64 {
	return float64(t.Sec) + float64(t.Nanosec)/1e9
}

// Header is the common message header.
type Header struct {
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Point32 is a single point.
type Point32 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// PointCloudMessage is a cloud of raw device-frame points.
type PointCloudMessage struct {
	Header Header    `json:"header"`
	Points []Point32 `json:"points"`
}

func (*PointCloudMessage) MessageType() string { return "sensor_msgs/PointCloud" }

// Quaternion is an x, y, z, w rotation.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Vector3 is a 3-vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ImuMessage is the inertial message published alongside the cloud. The
// pipeline does not read inertial data, so it is sent with a header only.
type ImuMessage struct {
	Header                       Header     `json:"header"`
	Orientation                  Quaternion `json:"orientation"`
	OrientationCovariance        [9]float64 `json:"orientation_covariance"`
	AngularVelocity              Vector3    `json:"angular_velocity"`
	AngularVelocityCovariance    [9]float64 `json:"angular_velocity_covariance"`
	LinearAcceleration           Vector3    `json:"linear_acceleration"`
	LinearAccelerationCovariance [9]float64 `json:"linear_acceleration_covariance"`
}

func (*ImuMessage) MessageType() string { return "sensor_msgs/Imu" }

// Package device defines the contract between the pipeline and a depth
// sensing device, and provides a synthetic implementation.
package device

import (
	"context"
	"errors"
)

var (
	// ErrOutOfDate is returned when the device service is older than required.
	ErrOutOfDate = errors.New("device service out of date")
	// ErrDevice is a generic device failure.
	ErrDevice = errors.New("device error")
	// ErrInvalid is returned for invalid arguments or configuration.
	ErrInvalid = errors.New("invalid device request")
	// ErrServiceUnavailable is returned when the device is not bound.
	ErrServiceUnavailable = errors.New("device service unavailable")
	// ErrNotConnected is returned for calls that require a connection.
	ErrNotConnected = errors.New("device not connected")
)

// Listener receives device callbacks. Callbacks run on a device-owned
// goroutine and must not block.
type Listener interface {
	OnPoseAvailable(PoseSample)
	OnPointCloudAvailable(*PointSample)
	OnEvent(Event)
}

// TransformService answers timestamped transform lookups.
type TransformService interface {
	TransformAt(ctx context.Context, q TransformQuery) (TransformResult, error)
	PoseAt(ctx context.Context, q TransformQuery) (PoseSample, error)
}

// Device is a depth sensing device.
type Device interface {
	TransformService

	// Connect applies cfg and starts the device.
	Connect(ctx context.Context, cfg Config) error
	// Disconnect stops delivery. After it returns no listener callback is
	// in flight.
	Disconnect() error
	// ConnectListener registers l for the given frame pairs. Only one
	// listener is active per connection.
	ConnectListener(pairs []FramePair, l Listener) error
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	Pose  func(PoseSample)
	Cloud func(*PointSample)
	Event func(Event)
}

func (f ListenerFuncs) OnPoseAvailable(p PoseSample) {
	if f.Pose != nil {
		f.Pose(p)
	}
}

func (f ListenerFuncs) OnPointCloudAvailable(s *PointSample) {
	if f.Cloud != nil {
		f.Cloud(s)
	}
}

func (f ListenerFuncs) OnEvent(e Event) {
	if f.Event != nil {
		f.Event(e)
	}
}

package pipeline

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/geom"
)

// Lessor hands out short leases on a connected device. While any lease is
// held the device stays connected; Acquire fails once a disconnect has
// begun.
type Lessor interface {
	Acquire() (release func(), ok bool)
}

// StageState is the FusionStage lifecycle.
type StageState int32

const (
	StageIdle StageState = iota
	StageActive
)

func (s StageState) String() string {
	if s == StageActive {
		return "active"
	}
	return "idle"
}

// FusionStats is a snapshot of FusionStage counters.
type FusionStats struct {
	State               string  `json:"state"`
	Ticks               uint64  `json:"ticks"`
	Applied             uint64  `json:"applied"`
	SkippedInvalid      uint64  `json:"skipped_invalid"`
	SkippedEmpty        uint64  `json:"skipped_empty"`
	SkippedDisconnected uint64  `json:"skipped_disconnected"`
	CameraUpdates       uint64  `json:"camera_updates"`
	ApplyErrors         uint64  `json:"apply_errors"`
	LastTimestamp       float64 `json:"last_timestamp"`
}

// FusionStage runs once per render frame. It pairs the latest point cloud
// with the depth camera pose at the cloud's timestamp and hands the result
// to the render target. Ticks with no sample or no valid pose leave the
// target untouched.
type FusionStage struct {
	lessor   Lessor
	buffer   *SampleBuffer
	resolver *TransformResolver
	target   RenderTarget

	state               atomic.Int32
	ticks               atomic.Uint64
	applied             atomic.Uint64
	skippedInvalid      atomic.Uint64
	skippedEmpty        atomic.Uint64
	skippedDisconnected atomic.Uint64
	cameraUpdates       atomic.Uint64
	applyErrors         atomic.Uint64
	lastTimestamp       atomic.Uint64 // float64 bits
}

// NewFusionStage returns an idle stage.
func NewFusionStage(lessor Lessor, buffer *SampleBuffer, resolver *TransformResolver, target RenderTarget) *FusionStage {
	return &FusionStage{
		lessor:   lessor,
		buffer:   buffer,
		resolver: resolver,
		target:   target,
	}
}

// cloudQuery returns the lookup placing a depth sample in the OpenGL world.
func cloudQuery(ts float64) device.TransformQuery {
	return device.TransformQuery{
		Timestamp:    ts,
		Base:         device.FrameStartOfService,
		Target:       device.FrameCameraDepth,
		BaseEngine:   device.EngineOpenGL,
		TargetEngine: device.EngineTango,
		Rotation:     device.RotationIgnored,
	}
}

// cameraQuery returns the lookup for the latest device pose.
func cameraQuery(rot device.DisplayRotation) device.TransformQuery {
	return device.TransformQuery{
		Timestamp:    0,
		Base:         device.FrameStartOfService,
		Target:       device.FrameDevice,
		BaseEngine:   device.EngineOpenGL,
		TargetEngine: device.EngineOpenGL,
		Rotation:     rot,
	}
}

// Tick runs one fusion step. It returns only errors from the render target.
func (f *FusionStage) Tick(ctx context.Context, sceneTime time.Duration, deltaTime float64) error {
	f.ticks.Add(1)

	release, ok := f.lessor.Acquire()
	if !ok {
		f.skippedDisconnected.Add(1)
		return nil
	}
	defer release()
	if f.state.CompareAndSwap(int32(StageIdle), int32(StageActive)) {
		diagf("fusion stage active at scene time %s", sceneTime)
	}

	f.updateCamera(ctx)

	sample, ok := f.buffer.Read()
	if !ok {
		f.skippedEmpty.Add(1)
		return nil
	}

	res := f.resolver.Resolve(ctx, cloudQuery(sample.Timestamp))
	if !res.Valid() {
		n := f.skippedInvalid.Add(1)
		tracef("skip cloud t=%.3f status=%s (skipped %d)", sample.Timestamp, res.Status, n)
		return nil
	}

	frame := RenderFrame{
		Timestamp:   sample.Timestamp,
		Sample:      sample,
		Position:    res.Translation(),
		Orientation: geom.Conjugate(res.Rotation()),
	}
	if err := f.target.ApplyCloud(frame); err != nil {
		f.applyErrors.Add(1)
		return err
	}
	f.applied.Add(1)
	f.lastTimestamp.Store(math.Float64bits(sample.Timestamp))
	tracef("applied cloud t=%.3f points=%d dt=%.4f", sample.Timestamp, sample.NumPoints, deltaTime)
	return nil
}

func (f *FusionStage) updateCamera(ctx context.Context) {
	pose := f.resolver.ResolvePose(ctx, cameraQuery(f.target.DisplayRotation()))
	if pose.Status != device.PoseValid {
		return
	}
	f.target.ApplyCameraPose(CameraPose{
		Timestamp:   pose.Timestamp,
		Position:    pose.Position(),
		Orientation: geom.Conjugate(pose.Quat()),
	})
	f.cameraUpdates.Add(1)
}

// OnPreFrame adapts Tick to a FrameFunc. Render target errors are logged and
// the frame is skipped.
func (f *FusionStage) OnPreFrame(sceneTime time.Duration, deltaTime float64) {
	if err := f.Tick(context.Background(), sceneTime, deltaTime); err != nil {
		opsf("render frame at %s skipped: %v", sceneTime, err)
	}
}

// Reset returns the stage to idle.
func (f *FusionStage) Reset() {
	f.state.Store(int32(StageIdle))
}

// State returns the stage lifecycle state.
func (f *FusionStage) State() StageState {
	return StageState(f.state.Load())
}

// Stats returns the stage counters.
func (f *FusionStage) Stats() FusionStats {
	return FusionStats{
		State:               f.State().String(),
		Ticks:               f.ticks.Load(),
		Applied:             f.applied.Load(),
		SkippedInvalid:      f.skippedInvalid.Load(),
		SkippedEmpty:        f.skippedEmpty.Load(),
		SkippedDisconnected: f.skippedDisconnected.Load(),
		CameraUpdates:       f.cameraUpdates.Load(),
		ApplyErrors:         f.applyErrors.Load(),
		LastTimestamp:       math.Float64frombits(f.lastTimestamp.Load()),
	}
}

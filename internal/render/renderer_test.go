package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/pipeline"
	"github.com/banshee-data/depthbridge/internal/timeutil"
)

var (
	_ pipeline.Renderer = (*SceneRenderer)(nil)
	_ pipeline.Renderer = (*MinimalRenderer)(nil)
	_ Surface           = (*LoopSurface)(nil)
	_ Surface           = (*ManualSurface)(nil)
)

func TestSceneRenderer(t *testing.T) {
	surface := &ManualSurface{}
	r := NewSceneRenderer(surface, 10, CapacityStrict)

	var calls int
	var lastScene time.Duration
	require.NoError(t, r.SetupRenderer(func(sceneTime time.Duration, delta float64) {
		calls++
		lastScene = sceneTime
	}))
	surface.Frame(33 * time.Millisecond)
	surface.Frame(33 * time.Millisecond)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 66*time.Millisecond, lastScene)
	assert.Equal(t, uint64(2), r.Frames())

	require.NoError(t, r.ApplyCloud(pipeline.RenderFrame{Sample: xyzc(3), Position: r3.Vec{Y: 1}, Orientation: identity}))
	assert.Equal(t, 3, r.Snapshot().Count)
	assert.ErrorIs(t, r.ApplyCloud(pipeline.RenderFrame{Sample: xyzc(11), Orientation: identity}), ErrCapacityExceeded)

	r.ApplyCameraPose(pipeline.CameraPose{Position: r3.Vec{X: 2, Y: 1}, Orientation: identity})
	pos, _, n := r.Frustum().Pose()
	assert.Equal(t, r3.Vec{X: 2, Y: 1}, pos)
	assert.Equal(t, uint64(1), n)
	assert.Equal(t, r3.Vec{X: 2, Y: 1}, r.Camera().Eye, "first person camera sits on the device")

	r.SetViewMode(pipeline.ViewTopDown)
	r.ApplyCameraPose(pipeline.CameraPose{Position: r3.Vec{X: 2, Y: 1}, Orientation: identity})
	assert.Equal(t, r3.Vec{X: 2, Y: 1 + TopDownHeight}, r.Camera().Eye)
	assert.Equal(t, pipeline.ViewTopDown, r.ViewMode())

	r.SetViewMode(pipeline.ViewThirdPerson)
	r.ApplyCameraPose(pipeline.CameraPose{Orientation: identity})
	assert.Equal(t, r3.Vec{Y: ThirdPersonHeight, Z: ThirdPersonDistance}, r.Camera().Eye)

	r.SetDisplayRotation(device.Rotation180)
	assert.Equal(t, device.Rotation180, r.DisplayRotation())
	r.SetConnected(true)
	assert.True(t, r.Connected())
}

func TestMinimalRenderer(t *testing.T) {
	surface := &ManualSurface{}
	r := NewMinimalRenderer(surface, 4, CapacityTruncate)
	called := false
	require.NoError(t, r.SetupRenderer(func(time.Duration, float64) { called = true }))
	surface.Frame(time.Millisecond)
	assert.True(t, called)

	require.NoError(t, r.ApplyCloud(pipeline.RenderFrame{Sample: xyzc(9), Orientation: identity}))
	assert.Equal(t, 4, r.Snapshot().Count)

	r.SetViewMode(pipeline.ViewTopDown)
	assert.Equal(t, pipeline.ViewFirstPerson, r.ViewMode(), "minimal renderer has no view modes")

	r.ApplyCameraPose(pipeline.CameraPose{Timestamp: 3})
	assert.Equal(t, 3.0, r.CameraPose().Timestamp)
	r.SetDisplayRotation(device.Rotation90)
	assert.Equal(t, device.Rotation90, r.DisplayRotation())
	r.SetConnected(true)
	assert.True(t, r.Connected())
}

func TestRendererWithoutSurface(t *testing.T) {
	assert.Error(t, NewSceneRenderer(nil, 1, CapacityTruncate).SetupRenderer(func(time.Duration, float64) {}))
	assert.Error(t, NewMinimalRenderer(nil, 1, CapacityTruncate).SetupRenderer(func(time.Duration, float64) {}))
}

func TestNewVariant(t *testing.T) {
	v, err := New("minimal", &ManualSurface{}, 1, CapacityTruncate)
	require.NoError(t, err)
	assert.IsType(t, &MinimalRenderer{}, v)
	v, err = New("", &ManualSurface{}, 1, CapacityTruncate)
	require.NoError(t, err)
	assert.IsType(t, &SceneRenderer{}, v)
	_, err = New("vulkan", nil, 1, CapacityTruncate)
	assert.Error(t, err)
}

func TestLoopSurface(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	s := NewLoopSurface(10, clock)

	type frame struct {
		scene time.Duration
		delta float64
	}
	frames := make(chan frame, 4)
	s.RegisterFrameCallback(func(scene time.Duration, delta float64) {
		frames <- frame{scene, delta}
	})
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	clock.Advance(100 * time.Millisecond)
	f := <-frames
	assert.Equal(t, 100*time.Millisecond, f.scene)
	assert.InDelta(t, 0.1, f.delta, 1e-9)

	clock.Advance(100 * time.Millisecond)
	f = <-frames
	assert.Equal(t, 200*time.Millisecond, f.scene)

	s.Stop()
	s.Stop()
	require.Eventually(t, func() bool { return s.Frames() == 2 }, time.Second, time.Millisecond)
}

func TestViewHandlerZoomClamp(t *testing.T) {
	v := NewViewHandler()
	v.SetMode(pipeline.ViewTopDown)
	v.SetZoom(100)
	v.UpdateCamera(r3.Vec{}, identity)
	assert.Equal(t, 10*TopDownHeight, v.Camera().Eye.Y)
	v.SetZoom(0)
	v.UpdateCamera(r3.Vec{}, identity)
	assert.InDelta(t, 0.2*TopDownHeight, v.Camera().Eye.Y, 1e-12)
}

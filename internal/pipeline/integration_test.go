package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthbridge/internal/bus"
	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/diagnostics"
	"github.com/banshee-data/depthbridge/internal/pipeline"
	"github.com/banshee-data/depthbridge/internal/render"
	"github.com/banshee-data/depthbridge/internal/timeutil"
)

// TestPipelineEndToEnd drives the synthetic device, a scene renderer on a
// manual surface and the publish scheduler through a pause and resume.
func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	clock := timeutil.NewMockClock(time.Unix(1000, 0))

	synCfg := device.DefaultSyntheticConfig()
	synCfg.FrameRate = 0.001 // frames come from EmitFrame only
	synCfg.PointsPerCloud = 50
	dev := device.NewSynthetic(synCfg, clock)

	buffer := pipeline.NewSampleBuffer()
	diag := diagnostics.NewMonitor(diagnostics.Config{MinDepthPoints: 10}, nil, clock)
	surface := &render.ManualSurface{}
	renderer := render.NewSceneRenderer(surface, 100, render.CapacityTruncate)

	session := pipeline.NewSession(dev, pipeline.DefaultSessionConfig(), buffer, diag, renderer)
	resolver := pipeline.NewTransformResolver(dev, 50*time.Millisecond)
	stage := pipeline.NewFusionStage(session, buffer, resolver, renderer)
	require.NoError(t, renderer.SetupRenderer(stage.OnPreFrame))

	sink := bus.NewMemorySink()
	schedCfg := pipeline.DefaultSchedulerConfig()
	scheduler := pipeline.NewPublishScheduler(schedCfg, buffer, sink, session, clock)

	require.NoError(t, session.Resume(ctx))
	defer session.Pause()
	assert.True(t, renderer.Connected())

	clock.Advance(time.Second)
	require.NoError(t, dev.EmitFrame())

	surface.Frame(33 * time.Millisecond)
	snap := renderer.Snapshot()
	assert.Equal(t, 50, snap.Count)
	assert.Equal(t, 1.0, snap.Timestamp)
	assert.Equal(t, uint64(1), stage.Stats().Applied)
	_, _, moves := renderer.Frustum().Pose()
	assert.NotZero(t, moves, "camera follows the device pose")

	require.NoError(t, scheduler.Tick(ctx))
	clouds := sink.Topic(schedCfg.CloudTopic)
	require.Len(t, clouds, 1)
	msg, ok := clouds[0].(*bus.PointCloudMessage)
	require.True(t, ok)
	assert.Len(t, msg.Points, 50)
	assert.Equal(t, schedCfg.FrameID, msg.Header.FrameID)

	require.Eventually(t, func() bool { return diag.Stats().Clouds == 1 }, time.Second, time.Millisecond)

	require.NoError(t, session.Pause())
	assert.False(t, renderer.Connected())
	surface.Frame(33 * time.Millisecond)
	assert.Equal(t, uint64(1), stage.Stats().SkippedDisconnected)
	require.NoError(t, scheduler.Tick(ctx))
	assert.Len(t, sink.Topic(schedCfg.CloudTopic), 1)
	assert.False(t, diag.Stats().Running)

	// A new connection starts with an empty buffer; the renderer keeps the
	// last cloud it drew.
	require.NoError(t, session.Resume(ctx))
	surface.Frame(33 * time.Millisecond)
	assert.Equal(t, uint64(1), stage.Stats().SkippedEmpty)
	assert.Equal(t, 50, renderer.Snapshot().Count)
	assert.Equal(t, int64(2), dev.Registrations())
}

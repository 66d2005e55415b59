package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/depthbridge/internal/device"
)

type fakeTarget struct {
	mu       sync.Mutex
	frames   []RenderFrame
	cameras  []CameraPose
	rotation device.DisplayRotation
	err      error
}

func (t *fakeTarget) ApplyCloud(f RenderFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.frames = append(t.frames, f)
	return nil
}

func (t *fakeTarget) ApplyCameraPose(p CameraPose) {
	t.mu.Lock()
	t.cameras = append(t.cameras, p)
	t.mu.Unlock()
}

func (t *fakeTarget) DisplayRotation() device.DisplayRotation { return t.rotation }

func (t *fakeTarget) frameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

type fakeTransforms struct {
	mu      sync.Mutex
	result  device.TransformResult
	pose    device.PoseSample
	err     error
	block   bool
	stall   time.Duration
	queries []device.TransformQuery
}

func (f *fakeTransforms) TransformAt(ctx context.Context, q device.TransformQuery) (device.TransformResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	res, err, block, stall := f.result, f.err, f.block, f.stall
	f.mu.Unlock()
	time.Sleep(stall)
	if block {
		<-ctx.Done()
		return device.TransformResult{Status: device.PoseInvalid}, ctx.Err()
	}
	return res, err
}

func (f *fakeTransforms) PoseAt(ctx context.Context, q device.TransformQuery) (device.PoseSample, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	pose, err, block, stall := f.pose, f.err, f.block, f.stall
	f.mu.Unlock()
	time.Sleep(stall)
	if block {
		<-ctx.Done()
		return device.PoseSample{Status: device.PoseInvalid}, ctx.Err()
	}
	return pose, err
}

func (f *fakeTransforms) set(res device.TransformResult) {
	f.mu.Lock()
	f.result = res
	f.mu.Unlock()
}

type fakeLessor struct {
	mu        sync.Mutex
	connected bool
	held      int
	acquired  int
}

func (l *fakeLessor) Acquire() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, false
	}
	l.held++
	l.acquired++
	return func() {
		l.mu.Lock()
		l.held--
		l.mu.Unlock()
	}, true
}

type fakeDiagnostics struct {
	mu      sync.Mutex
	started int
	stopped int
	poses   int
	clouds  int
	events  int
}

func (d *fakeDiagnostics) Start() error {
	d.mu.Lock()
	d.started++
	d.mu.Unlock()
	return nil
}

func (d *fakeDiagnostics) Stop() {
	d.mu.Lock()
	d.stopped++
	d.mu.Unlock()
}

func (d *fakeDiagnostics) PostPose(device.PoseSample) {
	d.mu.Lock()
	d.poses++
	d.mu.Unlock()
}

func (d *fakeDiagnostics) PostCloud(*device.PointSample) {
	d.mu.Lock()
	d.clouds++
	d.mu.Unlock()
}

func (d *fakeDiagnostics) PostEvent(device.Event) {
	d.mu.Lock()
	d.events++
	d.mu.Unlock()
}

type fakeObserver struct {
	mu    sync.Mutex
	calls []bool
	onSet func(bool)
}

func (o *fakeObserver) SetConnected(c bool) {
	o.mu.Lock()
	o.calls = append(o.calls, c)
	fn := o.onSet
	o.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func triples(n int, extra ...float32) *device.PointSample {
	pts := make([]float32, 0, n*3+len(extra))
	for i := 0; i < n; i++ {
		pts = append(pts, float32(i), float32(i)+0.1, float32(i)+0.2)
	}
	pts = append(pts, extra...)
	return &device.PointSample{Timestamp: float64(n), NumPoints: n, Points: pts, FloatsPerPoint: 3}
}

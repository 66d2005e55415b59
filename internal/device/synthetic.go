package device

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthbridge/internal/geom"
	"github.com/banshee-data/depthbridge/internal/timeutil"
)

// SyntheticConfig shapes the data produced by a Synthetic device.
type SyntheticConfig struct {
	FrameRate      float64 // point clouds per second
	PointsPerCloud int
	FloatsPerPoint int     // 3 or 4
	WallDistance   float64 // metres in front of the depth camera
	PathRadius     float64 // metres, radius of the device's circular path
	AngularSpeed   float64 // radians per second around the path
	Height         float64 // metres above the start-of-service origin
	// TransformLatency delays every transform lookup. Lookups honour
	// context cancellation while waiting.
	TransformLatency time.Duration
	Seed             int64
}

// DefaultSyntheticConfig returns a slow walk in front of a wall.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		FrameRate:      5,
		PointsPerCloud: 4000,
		FloatsPerPoint: 4,
		WallDistance:   2.0,
		PathRadius:     1.0,
		AngularSpeed:   0.2,
		Height:         1.2,
		Seed:           1,
	}
}

// futureTolerance is how far past the newest sample a lookup may reach.
const futureTolerance = 0.05

// Synthetic is a Device that walks a circular path in front of a wall.
// It drives its callbacks from its own goroutine, like a real device SDK.
type Synthetic struct {
	cfg   SyntheticConfig
	clock timeutil.Clock

	mu        sync.Mutex
	connected bool
	devCfg    Config
	listener  Listener
	pairs     []FramePair
	start     time.Time
	stopCh    chan struct{}
	rng       *rand.Rand
	failNext  error
	lookupErr error

	wg            sync.WaitGroup
	events        chan Event
	trackingLost  atomic.Bool
	frames        atomic.Uint64
	registrations atomic.Int64
	connects      atomic.Int64
}

// NewSynthetic returns a disconnected synthetic device.
func NewSynthetic(cfg SyntheticConfig, clock timeutil.Clock) *Synthetic {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultSyntheticConfig().FrameRate
	}
	if cfg.FloatsPerPoint != 3 {
		cfg.FloatsPerPoint = 4
	}
	return &Synthetic{
		cfg:    cfg,
		clock:  clock,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		events: make(chan Event, 16),
	}
}

// Connect applies cfg and starts the emitter goroutine.
func (s *Synthetic) Connect(ctx context.Context, cfg Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		opsf("connect failed: %v", err)
		return err
	}
	if s.connected {
		return fmt.Errorf("%w: already connected", ErrInvalid)
	}
	if !cfg.DepthEnabled && cfg.DepthMode != DepthModePointCloud {
		return fmt.Errorf("%w: depth mode %d without depth", ErrInvalid, cfg.DepthMode)
	}

	s.devCfg = cfg
	s.connected = true
	s.start = s.clock.Now()
	s.stopCh = make(chan struct{})
	s.connects.Add(1)

	s.wg.Add(1)
	go s.run(s.stopCh)

	diagf("connected: depth=%v autorecovery=%v rate=%.1fHz", cfg.DepthEnabled, cfg.AutoRecovery, s.cfg.FrameRate)
	return nil
}

// Disconnect stops the emitter and clears the listener. It waits for any
// callback in flight, so it must not be called from a listener callback.
func (s *Synthetic) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	s.listener = nil
	s.pairs = nil
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	diagf("disconnected after %d frames", s.frames.Load())
	return nil
}

// ConnectListener registers l. A second registration on the same
// connection is rejected.
func (s *Synthetic) ConnectListener(pairs []FramePair, l Listener) error {
	if l == nil {
		return fmt.Errorf("%w: nil listener", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.listener != nil {
		return fmt.Errorf("%w: listener already registered", ErrInvalid)
	}
	s.listener = l
	s.pairs = append([]FramePair(nil), pairs...)
	s.registrations.Add(1)
	return nil
}

// TransformAt answers a lookup from the analytic trajectory.
func (s *Synthetic) TransformAt(ctx context.Context, q TransformQuery) (TransformResult, error) {
	if d := s.cfg.TransformLatency; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return TransformResult{Timestamp: q.Timestamp, Status: PoseInvalid}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return TransformResult{Timestamp: q.Timestamp, Status: PoseInvalid}, err
	}
	return s.lookup(q)
}

func (s *Synthetic) lookup(q TransformQuery) (TransformResult, error) {
	s.mu.Lock()
	connected, lookupErr, start := s.connected, s.lookupErr, s.start
	s.mu.Unlock()
	if !connected {
		return TransformResult{Timestamp: q.Timestamp, Status: PoseInvalid}, ErrServiceUnavailable
	}
	if lookupErr != nil {
		return TransformResult{Timestamp: q.Timestamp, Status: PoseInvalid}, lookupErr
	}

	now := s.clock.Since(start).Seconds()
	ts := q.Timestamp
	if ts == 0 {
		ts = now
	}
	res := TransformResult{Timestamp: ts, Status: PoseInvalid}
	if ts < 0 || ts > now+futureTolerance || s.trackingLost.Load() {
		return res, nil
	}

	base, ok := s.frameInStartOfService(q.Base, ts)
	if !ok {
		return res, nil
	}
	target, ok := s.frameInStartOfService(q.Target, ts)
	if !ok {
		return res, nil
	}
	res.Matrix = Convert(base.InverseRigid().Mul(target), q)
	res.Status = PoseValid
	return res, nil
}

// PoseAt is TransformAt expressed as a pose.
func (s *Synthetic) PoseAt(ctx context.Context, q TransformQuery) (PoseSample, error) {
	tr, err := s.TransformAt(ctx, q)
	return poseFromTransform(q, tr), err
}

func poseFromTransform(q TransformQuery, tr TransformResult) PoseSample {
	pose := PoseSample{
		Timestamp: tr.Timestamp,
		Base:      q.Base,
		Target:    q.Target,
		Status:    tr.Status,
	}
	if tr.Valid() {
		pose.Translation = geom.Array3(tr.Translation())
		pose.Rotation = geom.QuatToXYZW(tr.Rotation())
	}
	return pose
}

// frameInStartOfService returns the Tango-convention pose of f at t.
// Area description frames are unknown without a loaded map.
func (s *Synthetic) frameInStartOfService(f Frame, t float64) (geom.Mat4, bool) {
	switch f {
	case FrameStartOfService:
		return geom.Identity(), true
	case FrameDevice:
		return s.devicePose(t), true
	case FrameCameraDepth, FrameCameraColor:
		return s.devicePose(t).Mul(cameraExtrinsic(f)), true
	}
	return geom.Mat4{}, false
}

// devicePose walks a circle at constant height, facing along the path.
func (s *Synthetic) devicePose(t float64) geom.Mat4 {
	angle := s.cfg.AngularSpeed * t
	pos := r3.Vec{
		X: s.cfg.PathRadius * math.Cos(angle),
		Y: s.cfg.PathRadius * math.Sin(angle),
		Z: s.cfg.Height,
	}
	return geom.FromPose(pos, geom.AxisAngle(zAxis, angle))
}

// cameraExtrinsic maps a camera frame (Z forward) onto the device frame
// (Y forward).
func cameraExtrinsic(f Frame) geom.Mat4 {
	offset := r3.Vec{Y: 0.01, Z: 0.05}
	if f == FrameCameraColor {
		offset.X = 0.02
	}
	return geom.FromPose(offset, geom.AxisAngle(xAxis, -math.Pi/2))
}

// InjectEvent queues e for delivery on the emitter goroutine. It reports
// false when the queue is full.
func (s *Synthetic) InjectEvent(e Event) bool {
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

// SetTrackingLost makes every pose and lookup invalid while lost is true.
func (s *Synthetic) SetTrackingLost(lost bool) { s.trackingLost.Store(lost) }

// FailNextConnect makes the next Connect return err.
func (s *Synthetic) FailNextConnect(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// SetLookupError makes every lookup return err until cleared with nil.
func (s *Synthetic) SetLookupError(err error) {
	s.mu.Lock()
	s.lookupErr = err
	s.mu.Unlock()
}

// Frames returns the number of point clouds emitted.
func (s *Synthetic) Frames() uint64 { return s.frames.Load() }

// Registrations returns the total number of accepted listener registrations.
func (s *Synthetic) Registrations() int64 { return s.registrations.Load() }

// Connects returns the total number of successful connects.
func (s *Synthetic) Connects() int64 { return s.connects.Load() }

// Connected reports whether the device is connected.
func (s *Synthetic) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// EmitFrame produces one pose and point cloud synchronously on the calling
// goroutine. Tests use it to step the device without a ticker.
func (s *Synthetic) EmitFrame() error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	s.emit()
	return nil
}

func (s *Synthetic) run(stop <-chan struct{}) {
	defer s.wg.Done()
	period := time.Duration(float64(time.Second) / s.cfg.FrameRate)
	ticker := s.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case ev := <-s.events:
			if l, _ := s.currentListener(); l != nil {
				l.OnEvent(ev)
			}
		case <-ticker.C():
			s.emit()
		}
	}
}

func (s *Synthetic) currentListener() (Listener, []FramePair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener, s.pairs
}

func (s *Synthetic) emit() {
	l, pairs := s.currentListener()
	s.mu.Lock()
	now := s.clock.Since(s.start).Seconds()
	depth := s.devCfg.DepthEnabled
	cloud := s.pointCloud(now)
	s.mu.Unlock()

	if l == nil {
		return
	}
	for _, p := range pairs {
		q := TransformQuery{Timestamp: now, Base: p.Base, Target: p.Target, Rotation: RotationIgnored}
		tr, _ := s.lookup(q)
		l.OnPoseAvailable(poseFromTransform(q, tr))
	}
	if depth {
		l.OnPointCloudAvailable(cloud)
		n := s.frames.Add(1)
		tracef("frame %d t=%.3f points=%d", n, now, cloud.NumPoints)
	}
}

// pointCloud samples a rippled wall in the depth camera frame. Callers hold s.mu.
func (s *Synthetic) pointCloud(t float64) *PointSample {
	n := s.cfg.PointsPerCloud
	stride := s.cfg.FloatsPerPoint
	pts := make([]float32, 0, n*stride)
	for i := 0; i < n; i++ {
		u := s.rng.Float64()*2 - 1
		v := s.rng.Float64()*1.5 - 0.75
		z := s.cfg.WallDistance + 0.05*math.Sin(3*u+t)
		pts = append(pts, float32(u), float32(v), float32(z))
		if stride == 4 {
			pts = append(pts, float32(0.5+0.5*s.rng.Float64()))
		}
	}
	return &PointSample{
		Timestamp:      t,
		NumPoints:      n,
		Points:         pts,
		FloatsPerPoint: stride,
	}
}

// Package diagnostics watches the sensor stream for user-experience
// problems and keeps a throttled history of point cloud statistics.
package diagnostics

import (
	"errors"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/timeutil"
)

// Defaults for Config.
const (
	DefaultInterval       = 100 * time.Millisecond
	DefaultQueueSize      = 256
	DefaultMinDepthPoints = 100
	DefaultMaxSpeed       = 2.0 // m/s
	DefaultHistorySize    = 600
)

// Config tunes the monitor. Zero fields take defaults.
type Config struct {
	// Interval is measured in sample time, not wall time.
	Interval       time.Duration
	QueueSize      int
	MinDepthPoints int
	MaxSpeed       float64
	HistorySize    int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MinDepthPoints <= 0 {
		c.MinDepthPoints = DefaultMinDepthPoints
	}
	if c.MaxSpeed <= 0 {
		c.MaxSpeed = DefaultMaxSpeed
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// CloudStats summarises one throttled point cloud.
type CloudStats struct {
	Timestamp    float64   `json:"timestamp"`
	Points       int       `json:"points"`
	AverageDepth float64   `json:"average_depth"`
	At           time.Time `json:"at"`
}

// Recorder persists what the monitor observes.
type Recorder interface {
	RecordException(Exception) error
	RecordCloudStats(CloudStats) error
}

// MonitorStats is a snapshot of the monitor counters.
type MonitorStats struct {
	Running      bool     `json:"running"`
	Poses        uint64   `json:"poses"`
	Clouds       uint64   `json:"clouds"`
	Events       uint64   `json:"events"`
	Dropped      uint64   `json:"dropped"`
	Exceptions   uint64   `json:"exceptions"`
	RecordErrors uint64   `json:"record_errors"`
	Active       []string `json:"active"`
}

type itemKind int

const (
	itemPose itemKind = iota
	itemCloud
	itemEvent
)

type item struct {
	kind  itemKind
	pose  device.PoseSample
	cloud *device.PointSample
	event device.Event
}

// Monitor receives pose, cloud and event notifications from the device
// goroutine and processes them on its own worker. Posting never blocks: when
// the queue is full the notification is dropped and counted.
type Monitor struct {
	cfg      Config
	recorder Recorder
	clock    timeutil.Clock

	mu      sync.RWMutex
	running bool
	queue   chan item
	stopCh  chan struct{}
	wg      sync.WaitGroup

	handlerMu   sync.RWMutex
	onException []func(Exception)

	// Worker-owned.
	ux          uxState
	lastPose    *device.PoseSample
	prevCloudTs float64
	untilNext   time.Duration

	stateMu sync.RWMutex
	history []CloudStats
	active  []ExceptionType

	poses, clouds, events atomic.Uint64
	dropped, exceptions   atomic.Uint64
	recordErrors          atomic.Uint64
}

// NewMonitor returns a stopped monitor. recorder may be nil.
func NewMonitor(cfg Config, recorder Recorder, clock timeutil.Clock) *Monitor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{cfg: cfg.withDefaults(), recorder: recorder, clock: clock}
}

// OnException registers fn to run on the worker for every transition.
func (m *Monitor) OnException(fn func(Exception)) {
	if fn == nil {
		return
	}
	m.handlerMu.Lock()
	m.onException = append(m.onException, fn)
	m.handlerMu.Unlock()
}

// Start launches the worker. Exception state and the cloud throttle start
// fresh on every Start.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("diagnostics monitor already running")
	}
	// A previous worker may still be finishing after a concurrent Stop.
	m.wg.Wait()
	m.ux = uxState{}
	m.lastPose = nil
	m.prevCloudTs = 0
	m.untilNext = m.cfg.Interval
	m.stateMu.Lock()
	m.active = nil
	m.stateMu.Unlock()

	m.queue = make(chan item, m.cfg.QueueSize)
	m.stopCh = make(chan struct{})
	m.running = true
	m.wg.Add(1)
	go m.run(m.queue, m.stopCh)
	diagf("monitor started")
	return nil
}

// Stop halts the worker and discards queued notifications. Posts after Stop
// are ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
	diagf("monitor stopped")
}

func (m *Monitor) PostPose(p device.PoseSample) { m.post(item{kind: itemPose, pose: p}) }

func (m *Monitor) PostCloud(pc *device.PointSample) {
	if pc == nil {
		return
	}
	m.post(item{kind: itemCloud, cloud: pc})
}

func (m *Monitor) PostEvent(e device.Event) { m.post(item{kind: itemEvent, event: e}) }

func (m *Monitor) post(it item) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return
	}
	select {
	case m.queue <- it:
	default:
		m.dropped.Add(1)
	}
}

func (m *Monitor) run(queue <-chan item, stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			return
		case it := <-queue:
			switch it.kind {
			case itemPose:
				m.poses.Add(1)
				m.handlePose(it.pose)
			case itemCloud:
				m.clouds.Add(1)
				m.handleCloud(it.cloud)
			case itemEvent:
				m.events.Add(1)
				m.handleEvent(it.event)
			}
		}
	}
}

func (m *Monitor) handlePose(p device.PoseSample) {
	if p.Status != device.PoseValid {
		if p.Status == device.PoseInvalid {
			m.transition(ExceptionMotionTrackInvalid, true, p.Timestamp, 0)
		}
		m.lastPose = nil
		return
	}
	m.transition(ExceptionMotionTrackInvalid, false, p.Timestamp, 0)

	if prev := m.lastPose; prev != nil {
		if dt := p.Timestamp - prev.Timestamp; dt > 0 {
			speed := r3.Norm(r3.Sub(p.Position(), prev.Position())) / dt
			m.transition(ExceptionMovingTooFast, speed > m.cfg.MaxSpeed, p.Timestamp, speed)
		}
	}
	m.lastPose = &p
}

func (m *Monitor) handleCloud(pc *device.PointSample) {
	n := pc.CompletePoints()
	m.transition(ExceptionFewDepthPoints, n < m.cfg.MinDepthPoints, pc.Timestamp, float64(n))

	delta := time.Duration((pc.Timestamp - m.prevCloudTs) * float64(time.Second))
	m.prevCloudTs = pc.Timestamp
	m.untilNext -= delta
	if m.untilNext >= 0 {
		return
	}
	m.untilNext = m.cfg.Interval

	stats := CloudStats{
		Timestamp:    pc.Timestamp,
		Points:       n,
		AverageDepth: pc.AverageDepth(),
		At:           m.clock.Now(),
	}
	tracef("cloud t=%.3f points=%d average depth=%.3f", stats.Timestamp, stats.Points, stats.AverageDepth)

	m.stateMu.Lock()
	m.history = append(m.history, stats)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = append(m.history[:0:0], m.history[over:]...)
	}
	m.stateMu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.RecordCloudStats(stats); err != nil {
			m.recordErrors.Add(1)
			opsf("failed to record cloud stats: %v", err)
		}
	}
}

func (m *Monitor) handleEvent(e device.Event) {
	var t ExceptionType
	switch e.Key {
	case device.KeyLyingOnSurface:
		t = ExceptionLyingOnSurface
	case device.KeyTooFewFeatures:
		t = ExceptionFewFeatures
	case device.KeyFisheyeOverExposed:
		t = ExceptionFisheyeOverExposed
	case device.KeyFisheyeUnderExposed:
		t = ExceptionFisheyeUnderExposed
	default:
		diagf("device event %s %s=%s", e.Type, e.Key, e.Value)
		return
	}
	active, value := parseEventValue(e.Value)
	m.transition(t, active, e.Timestamp, value)
}

// parseEventValue reads a boolean or numeric event value. Values that are
// neither mean the condition is present.
func parseEventValue(v string) (bool, float64) {
	if b, err := strconv.ParseBool(v); err == nil {
		return b, 0
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) {
		return true, f
	}
	return true, 0
}

func (m *Monitor) transition(t ExceptionType, active bool, ts, value float64) {
	status, changed := m.ux.set(t, active)
	if !changed {
		return
	}
	e := Exception{
		ID:        uuid.New(),
		Type:      t,
		Status:    status,
		Timestamp: ts,
		Value:     value,
		At:        m.clock.Now(),
	}
	m.exceptions.Add(1)
	diagf("%s", e.Message())

	m.stateMu.Lock()
	m.active = m.ux.list()
	m.stateMu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.RecordException(e); err != nil {
			m.recordErrors.Add(1)
			opsf("failed to record exception %s: %v", t.Key(), err)
		}
	}
	m.handlerMu.RLock()
	handlers := m.onException
	m.handlerMu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

// History returns the throttled cloud statistics, oldest first.
func (m *Monitor) History() []CloudStats {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return append([]CloudStats(nil), m.history...)
}

// Active returns the exceptions currently detected.
func (m *Monitor) Active() []ExceptionType {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return append([]ExceptionType(nil), m.active...)
}

// Stats returns a snapshot of the monitor counters.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	active := m.Active()
	names := make([]string, len(active))
	for i, t := range active {
		names[i] = t.Key()
	}
	return MonitorStats{
		Running:      running,
		Poses:        m.poses.Load(),
		Clouds:       m.clouds.Load(),
		Events:       m.events.Load(),
		Dropped:      m.dropped.Load(),
		Exceptions:   m.exceptions.Load(),
		RecordErrors: m.recordErrors.Load(),
		Active:       names,
	}
}

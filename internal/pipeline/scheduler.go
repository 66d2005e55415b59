package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/depthbridge/internal/bus"
	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/timeutil"
)

// DefaultPublishInterval is the publish period.
const DefaultPublishInterval = 500 * time.Millisecond

// SchedulerConfig configures a PublishScheduler.
type SchedulerConfig struct {
	Interval   time.Duration
	CloudTopic string
	ImuTopic   string
	FrameID    string
	PublishIMU bool
	// PublishTimeout bounds each tick's sink calls. Zero uses Interval.
	PublishTimeout time.Duration
}

// DefaultSchedulerConfig returns the standard topics and a 500ms period.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:   DefaultPublishInterval,
		CloudTopic: "/cloud",
		ImuTopic:   "/imu",
		FrameID:    "depth",
	}
}

// SchedulerStats is a snapshot of PublishScheduler counters.
type SchedulerStats struct {
	Running             bool   `json:"running"`
	Ticks               uint64 `json:"ticks"`
	Published           uint64 `json:"published"`
	ImuPublished        uint64 `json:"imu_published"`
	Empty               uint64 `json:"empty"`
	SkippedDisconnected uint64 `json:"skipped_disconnected"`
	Errors              uint64 `json:"errors"`
	LastPoints          int64  `json:"last_points"`
}

// PublishScheduler republishes the latest point cloud on a fixed period,
// independent of the render cadence. Clouds go out in the device frame with
// no pose applied.
type PublishScheduler struct {
	cfg    SchedulerConfig
	buffer *SampleBuffer
	sink   bus.Sink
	lessor Lessor
	clock  timeutil.Clock

	ticks               atomic.Uint64
	published           atomic.Uint64
	imuPublished        atomic.Uint64
	empty               atomic.Uint64
	skippedDisconnected atomic.Uint64
	errs                atomic.Uint64
	lastPoints          atomic.Int64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPublishScheduler returns a stopped scheduler. lessor may be nil, in
// which case ticks do not check the session. clock may be nil.
func NewPublishScheduler(cfg SchedulerConfig, buffer *SampleBuffer, sink bus.Sink, lessor Lessor, clock timeutil.Clock) *PublishScheduler {
	def := DefaultSchedulerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CloudTopic == "" {
		cfg.CloudTopic = def.CloudTopic
	}
	if cfg.ImuTopic == "" {
		cfg.ImuTopic = def.ImuTopic
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = cfg.Interval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PublishScheduler{
		cfg:    cfg,
		buffer: buffer,
		sink:   sink,
		lessor: lessor,
		clock:  clock,
	}
}

// Start arms the ticker and starts the publish goroutine. The goroutine
// exits on Stop or when ctx is done.
func (p *PublishScheduler) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("publish scheduler already running")
	}
	p.stopCh = make(chan struct{})
	ticker := p.clock.NewTicker(p.cfg.Interval)

	p.wg.Add(1)
	go p.run(ctx, ticker, p.stopCh)
	diagf("publish scheduler started: every %s to %s", p.cfg.Interval, p.cfg.CloudTopic)
	return nil
}

// Stop halts the schedule and waits for an in-flight tick to finish.
func (p *PublishScheduler) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
	diagf("publish scheduler stopped after %d ticks", p.ticks.Load())
}

func (p *PublishScheduler) run(ctx context.Context, ticker timeutil.Ticker, stop <-chan struct{}) {
	defer p.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.running.Store(false)
			return
		case <-stop:
			return
		case <-ticker.C():
			if err := p.Tick(ctx); err != nil {
				opsf("publish tick failed: %v", err)
			}
		}
	}
}

// Tick publishes the latest sample once. An empty buffer or a disconnected
// session makes it a no-op. Sink errors are counted and returned.
func (p *PublishScheduler) Tick(ctx context.Context) error {
	p.ticks.Add(1)

	sample, ok := p.read()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	header := bus.Header{Stamp: bus.StampFromTime(p.clock.Now()), FrameID: p.cfg.FrameID}
	msg := ToPointCloudMessage(sample, header)
	p.lastPoints.Store(int64(len(msg.Points)))

	var errs []error
	if err := p.sink.Publish(ctx, p.cfg.CloudTopic, msg); err != nil {
		p.errs.Add(1)
		errs = append(errs, err)
	} else {
		p.published.Add(1)
		tracef("published %d points to %s", len(msg.Points), p.cfg.CloudTopic)
	}

	if p.cfg.PublishIMU {
		if err := p.sink.Publish(ctx, p.cfg.ImuTopic, &bus.ImuMessage{Header: header}); err != nil {
			p.errs.Add(1)
			errs = append(errs, err)
		} else {
			p.imuPublished.Add(1)
		}
	}
	return errors.Join(errs...)
}

// read takes the latest sample under a session lease, so nothing is read
// once a pause has begun.
func (p *PublishScheduler) read() (*device.PointSample, bool) {
	if p.lessor != nil {
		release, ok := p.lessor.Acquire()
		if !ok {
			p.skippedDisconnected.Add(1)
			return nil, false
		}
		defer release()
	}
	sample, ok := p.buffer.Read()
	if !ok {
		p.empty.Add(1)
	}
	return sample, ok
}

// Stats returns the scheduler counters.
func (p *PublishScheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Running:             p.running.Load(),
		Ticks:               p.ticks.Load(),
		Published:           p.published.Load(),
		ImuPublished:        p.imuPublished.Load(),
		Empty:               p.empty.Load(),
		SkippedDisconnected: p.skippedDisconnected.Load(),
		Errors:              p.errs.Load(),
		LastPoints:          p.lastPoints.Load(),
	}
}

// ToPointCloudMessage converts the complete points of s into a bus message.
// Only X, Y and Z are kept; trailing values that do not make a whole point
// are dropped.
func ToPointCloudMessage(s *device.PointSample, header bus.Header) *bus.PointCloudMessage {
	n := s.CompletePoints()
	msg := &bus.PointCloudMessage{Header: header, Points: make([]bus.Point32, n)}
	for i := 0; i < n; i++ {
		x, y, z := s.Point(i)
		msg.Points[i] = bus.Point32{X: x, Y: y, Z: z}
	}
	return msg
}

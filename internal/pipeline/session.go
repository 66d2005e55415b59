package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/depthbridge/internal/device"
)

// ErrSessionStart wraps every device failure during Resume.
var ErrSessionStart = errors.New("session start failed")

// SessionState is the connection lifecycle.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Diagnostics receives device callbacks for advisory processing. Post
// methods are called on the device goroutine and must not block.
type Diagnostics interface {
	Start() error
	Stop()
	PostPose(device.PoseSample)
	PostCloud(*device.PointSample)
	PostEvent(device.Event)
}

// ConnectionObserver is told about connectivity changes.
type ConnectionObserver interface {
	SetConnected(bool)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Device device.Config
	Pairs  []device.FramePair
}

// DefaultSessionConfig listens for start-of-service to device poses with
// depth on in point cloud mode and auto recovery enabled.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Device: device.DefaultConfig(),
		Pairs:  []device.FramePair{{Base: device.FrameStartOfService, Target: device.FrameDevice}},
	}
}

// SessionStats is a snapshot of session counters.
type SessionStats struct {
	State         string `json:"state"`
	ID            string `json:"id"`
	Resumes       uint64 `json:"resumes"`
	Pauses        uint64 `json:"pauses"`
	StartFailures uint64 `json:"start_failures"`
	ActiveLeases  int64  `json:"active_leases"`
}

// Session owns the device connection. Resume and Pause are serialised
// against each other, and Pause waits for every outstanding lease before it
// disconnects, so no tick touches the device outside Connected.
type Session struct {
	dev      device.Device
	cfg      SessionConfig
	buffer   *SampleBuffer
	diag     Diagnostics
	observer ConnectionObserver
	listener device.Listener

	transition sync.Mutex // serialises Resume and Pause

	mu        sync.Mutex
	state     SessionState
	connected bool
	id        string
	observers []func(SessionState)

	leases       sync.WaitGroup
	activeLeases atomic.Int64

	resumes  atomic.Uint64
	pauses   atomic.Uint64
	failures atomic.Uint64
}

// NewSession returns a disconnected session. diag and observer may be nil.
func NewSession(dev device.Device, cfg SessionConfig, buffer *SampleBuffer, diag Diagnostics, observer ConnectionObserver) *Session {
	s := &Session{
		dev:      dev,
		cfg:      cfg,
		buffer:   buffer,
		diag:     diag,
		observer: observer,
	}
	s.listener = sessionListener{s: s}
	return s
}

// Resume connects the device and registers the session's listener once for
// this connection. Calling Resume while connected is a no-op. On failure the
// session stays Disconnected and Resume may be retried.
func (s *Session) Resume(ctx context.Context) error {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.setState(Connecting)

	s.buffer.Reset()
	if err := s.connect(ctx); err != nil {
		s.failures.Add(1)
		s.setState(Disconnected)
		opsf("session start failed: %v", err)
		return fmt.Errorf("%w: %w", ErrSessionStart, err)
	}

	// Leases are granted only once State reports Connected.
	id := uuid.NewString()
	s.mu.Lock()
	s.id = id
	s.state = Connected
	s.connected = true
	observers := slices.Clone(s.observers)
	s.mu.Unlock()
	s.resumes.Add(1)

	if s.observer != nil {
		s.observer.SetConnected(true)
	}
	notify(observers, Connected)
	diagf("session %s connected", id)
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	if err := s.dev.Connect(ctx, s.cfg.Device); err != nil {
		return err
	}
	if err := s.dev.ConnectListener(s.cfg.Pairs, s.listener); err != nil {
		if derr := s.dev.Disconnect(); derr != nil {
			opsf("disconnect after failed listener registration: %v", derr)
		}
		return err
	}
	if s.diag != nil {
		if err := s.diag.Start(); err != nil {
			opsf("diagnostics start: %v", err)
		}
	}
	return nil
}

// Pause disconnects the device. It is safe at any time and idempotent.
func (s *Session) Pause() error {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	id := s.id
	s.mu.Unlock()

	// No new leases can start; wait for in-flight ticks.
	s.leases.Wait()

	if s.diag != nil {
		s.diag.Stop()
	}
	err := s.dev.Disconnect()
	if err != nil {
		opsf("session %s disconnect: %v", id, err)
	}
	if s.observer != nil {
		s.observer.SetConnected(false)
	}
	s.pauses.Add(1)
	s.setState(Disconnected)
	diagf("session %s disconnected", id)
	return err
}

// Acquire implements Lessor.
func (s *Session) Acquire() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, false
	}
	s.leases.Add(1)
	s.activeLeases.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.activeLeases.Add(-1)
			s.leases.Done()
		})
	}, true
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the identifier of the current or most recent connection.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the goroutine calling Resume or Pause.
func (s *Session) OnStateChange(fn func(SessionState)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	observers := slices.Clone(s.observers)
	s.mu.Unlock()
	notify(observers, st)
}

func notify(observers []func(SessionState), st SessionState) {
	for _, fn := range observers {
		fn(st)
	}
}

// Stats returns the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	state, id := s.state, s.id
	s.mu.Unlock()
	return SessionStats{
		State:         state.String(),
		ID:            id,
		Resumes:       s.resumes.Load(),
		Pauses:        s.pauses.Load(),
		StartFailures: s.failures.Load(),
		ActiveLeases:  s.activeLeases.Load(),
	}
}

// sessionListener runs on the device goroutine. It only stores the cloud and
// forwards to diagnostics.
type sessionListener struct {
	s *Session
}

func (l sessionListener) OnPoseAvailable(p device.PoseSample) {
	if l.s.diag != nil {
		l.s.diag.PostPose(p)
	}
}

func (l sessionListener) OnPointCloudAvailable(pc *device.PointSample) {
	l.s.buffer.Write(pc)
	if l.s.diag != nil {
		l.s.diag.PostCloud(pc)
	}
}

func (l sessionListener) OnEvent(e device.Event) {
	if l.s.diag != nil {
		l.s.diag.PostEvent(e)
	}
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthbridge/internal/device"
	"github.com/banshee-data/depthbridge/internal/timeutil"
)

func newTestSession(t *testing.T) (*Session, *device.Synthetic, *SampleBuffer, *fakeDiagnostics, *fakeObserver) {
	t.Helper()
	cfg := device.DefaultSyntheticConfig()
	cfg.PointsPerCloud = 16
	dev := device.NewSynthetic(cfg, timeutil.NewMockClock(time.Unix(0, 0)))
	buf := NewSampleBuffer()
	diag := &fakeDiagnostics{}
	obs := &fakeObserver{}
	s := NewSession(dev, DefaultSessionConfig(), buf, diag, obs)
	t.Cleanup(func() { _ = s.Pause() })
	return s, dev, buf, diag, obs
}

func TestSession_ResumePause(t *testing.T) {
	s, dev, _, diag, obs := newTestSession(t)
	var states []SessionState
	s.OnStateChange(func(st SessionState) { states = append(states, st) })

	assert.Equal(t, Disconnected, s.State())
	require.NoError(t, s.Resume(context.Background()))
	assert.Equal(t, Connected, s.State())
	assert.NotEmpty(t, s.ID())
	assert.True(t, dev.Connected())
	assert.Equal(t, int64(1), dev.Registrations())
	assert.Equal(t, 1, diag.started)

	firstID := s.ID()
	require.NoError(t, s.Resume(context.Background()), "resume while connected is a no-op")
	assert.Equal(t, int64(1), dev.Registrations())

	require.NoError(t, s.Pause())
	assert.Equal(t, Disconnected, s.State())
	assert.False(t, dev.Connected())
	assert.Equal(t, 1, diag.stopped)
	require.NoError(t, s.Pause(), "pause is idempotent")
	assert.Equal(t, 1, diag.stopped)

	require.NoError(t, s.Resume(context.Background()))
	assert.NotEqual(t, firstID, s.ID(), "each connection gets a new id")

	assert.Equal(t, []SessionState{Connecting, Connected, Disconnected, Connecting, Connected}, states)
	assert.Equal(t, []bool{true, false, true}, obs.calls)

	st := s.Stats()
	assert.Equal(t, "connected", st.State)
	assert.Equal(t, uint64(2), st.Resumes)
	assert.Equal(t, uint64(1), st.Pauses)
}

func TestSession_PauseBeforeResume(t *testing.T) {
	s, dev, _, diag, _ := newTestSession(t)
	require.NoError(t, s.Pause())
	assert.Zero(t, diag.stopped)
	assert.Zero(t, dev.Connects())
}

func TestSession_StartFailure(t *testing.T) {
	for _, devErr := range []error{device.ErrOutOfDate, device.ErrDevice, device.ErrInvalid} {
		t.Run(devErr.Error(), func(t *testing.T) {
			s, dev, _, _, obs := newTestSession(t)
			dev.FailNextConnect(devErr)

			err := s.Resume(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSessionStart)
			assert.ErrorIs(t, err, devErr)
			assert.Equal(t, Disconnected, s.State())
			assert.Empty(t, obs.calls)
			assert.Equal(t, uint64(1), s.Stats().StartFailures)

			_, ok := s.Acquire()
			assert.False(t, ok)

			require.NoError(t, s.Resume(context.Background()), "retry succeeds")
			assert.Equal(t, Connected, s.State())
		})
	}
}

func TestSession_ListenerFeedsBufferAndDiagnostics(t *testing.T) {
	s, dev, buf, diag, _ := newTestSession(t)
	require.NoError(t, s.Resume(context.Background()))

	require.NoError(t, dev.EmitFrame())
	sample, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 16, sample.NumPoints)

	diag.mu.Lock()
	assert.Equal(t, 1, diag.clouds)
	assert.Equal(t, 1, diag.poses)
	diag.mu.Unlock()

	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume(context.Background()))
	_, ok = buf.Read()
	assert.False(t, ok, "a new connection starts with an empty buffer")
}

func TestSession_PauseWaitsForLeases(t *testing.T) {
	s, dev, _, _, _ := newTestSession(t)
	require.NoError(t, s.Resume(context.Background()))

	release, ok := s.Acquire()
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Stats().ActiveLeases)

	paused := make(chan error, 1)
	go func() { paused <- s.Pause() }()

	// New leases are refused as soon as the pause begins.
	require.Eventually(t, func() bool {
		r, ok := s.Acquire()
		if ok {
			r()
		}
		return !ok
	}, time.Second, time.Millisecond)

	select {
	case <-paused:
		t.Fatal("Pause returned while a lease was held")
	case <-time.After(20 * time.Millisecond):
	}
	assert.True(t, dev.Connected(), "device stays connected while leased")

	release()
	release() // idempotent
	require.NoError(t, <-paused)
	assert.False(t, dev.Connected())
	assert.Zero(t, s.Stats().ActiveLeases)
}

// Pause racing in-flight fusion ticks must never leave the device in a state
// where the next Resume registers a second listener.
func TestSession_ConcurrentPauseNeverDoubleRegisters(t *testing.T) {
	s, dev, buf, _, _ := newTestSession(t)
	stage := NewFusionStage(s, buf, NewTransformResolver(dev, time.Millisecond), &fakeTarget{})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = stage.Tick(context.Background(), 0, 0)
				}
			}
		}()
	}

	var pauses sync.WaitGroup
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Resume(context.Background()))
		_ = dev.EmitFrame()
		pauses.Add(1)
		go func() {
			defer pauses.Done()
			_ = s.Pause()
		}()
		_ = s.Pause()
		pauses.Wait()
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, dev.Connects(), dev.Registrations(), "exactly one registration per connection")
	assert.Equal(t, int64(50), dev.Connects())
	assert.Equal(t, Disconnected, s.State())
}

type failingDisconnect struct {
	*device.Synthetic
}

func (f failingDisconnect) Disconnect() error {
	_ = f.Synthetic.Disconnect()
	return device.ErrDevice
}

func TestSession_DisconnectErrorStillDisconnects(t *testing.T) {
	dev := device.NewSynthetic(device.DefaultSyntheticConfig(), timeutil.NewMockClock(time.Unix(0, 0)))
	s := NewSession(failingDisconnect{dev}, DefaultSessionConfig(), NewSampleBuffer(), nil, nil)
	require.NoError(t, s.Resume(context.Background()))

	err := s.Pause()
	assert.True(t, errors.Is(err, device.ErrDevice))
	assert.Equal(t, Disconnected, s.State())
}

type listenerRejectingDevice struct {
	*device.Synthetic
}

func (d listenerRejectingDevice) ConnectListener([]device.FramePair, device.Listener) error {
	return device.ErrInvalid
}

func TestSession_ListenerFailureDisconnects(t *testing.T) {
	dev := device.NewSynthetic(device.DefaultSyntheticConfig(), timeutil.NewMockClock(time.Unix(0, 0)))
	s := NewSession(listenerRejectingDevice{dev}, DefaultSessionConfig(), NewSampleBuffer(), nil, nil)

	err := s.Resume(context.Background())
	assert.ErrorIs(t, err, ErrSessionStart)
	assert.False(t, dev.Connected(), "a half-open connection is closed")
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "SessionState(9)", SessionState(9).String())
}

func TestSession_LeasesOnlyWhenConnected(t *testing.T) {
	s, _, _, _, obs := newTestSession(t)

	var (
		statesAtSet []SessionState
		leaseStates []SessionState
	)
	s.OnStateChange(func(st SessionState) {
		if release, ok := s.Acquire(); ok {
			leaseStates = append(leaseStates, st)
			release()
		}
	})
	obs.onSet = func(c bool) {
		if c {
			statesAtSet = append(statesAtSet, s.State())
		}
	}

	require.NoError(t, s.Resume(context.Background()))
	require.NoError(t, s.Pause())

	assert.Equal(t, []SessionState{Connected}, statesAtSet, "renderer sees Connected state")
	assert.Equal(t, []SessionState{Connected}, leaseStates, "no lease while Connecting or Disconnected")
}

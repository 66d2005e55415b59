package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	d := clock.Since(time.Now().Add(-time.Second))
	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	ticker := RealClock{}.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(200 * time.Millisecond):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(500 * time.Millisecond)

	clock.Advance(499 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its period elapsed")
	default:
	}

	clock.Advance(time.Millisecond)
	select {
	case got := <-ticker.C():
		if want := start.Add(500 * time.Millisecond); !got.Equal(want) {
			t.Errorf("tick time = %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire at 500ms")
	}

	if got := clock.Since(start); got != 500*time.Millisecond {
		t.Errorf("Since = %v, want 500ms", got)
	}
}

func TestMockClock_AdvancePastSeveralPeriods(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(100 * time.Millisecond)

	clock.Advance(350 * time.Millisecond)
	<-ticker.C()

	// Next deadline is 400ms; 50ms later it fires again.
	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected tick at 400ms")
	}
}

func TestMockTicker_StopAndTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(2 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}

	mt := ticker.(*MockTicker)
	now := time.Unix(5, 0)
	mt.Trigger(now)
	if got := <-ticker.C(); !got.Equal(now) {
		t.Errorf("Trigger delivered %v, want %v", got, now)
	}
}

func TestMockClock_TickerCreated(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	go clock.NewTicker(time.Second)

	select {
	case <-clock.TickerCreated():
	case <-time.After(time.Second):
		t.Fatal("TickerCreated never signalled")
	}
	if clock.TickerCount() != 1 {
		t.Errorf("TickerCount = %d, want 1", clock.TickerCount())
	}
}

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNow_ReturnsCurrentTime(t *testing.T) {
	before := time.Now()
	result := Now()
	after := time.Now()

	if result.Before(before) || result.After(after) {
		t.Errorf("Now() returned %v, expected between %v and %v", result, before, after)
	}
}

func TestMockClock_Now(t *testing.T) {
	mockTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(mockTime)

	result := mock.Now()

	if !result.Equal(mockTime) {
		t.Errorf("MockClock.Now() returned %v, expected exactly %v", result, mockTime)
	}
}

func TestMockClock_Advance(t *testing.T) {
	mockTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(mockTime)

	first := mock.Now()
	mock.Advance(time.Hour)
	second := mock.Now()

	expected := mockTime.Add(time.Hour)
	if !second.Equal(expected) {
		t.Errorf("After Advance, Now() = %v, expected %v", second, expected)
	}
	if !first.Equal(mockTime) {
		t.Errorf("Before Advance, Now() = %v, expected %v", first, mockTime)
	}
}

func TestMockClock_SinceUntil(t *testing.T) {
	mockTime := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(mockTime)

	if got := mock.Since(mockTime.Add(-time.Hour)); got != time.Hour {
		t.Errorf("Since() = %v, expected %v", got, time.Hour)
	}
	if got := mock.Until(mockTime.Add(time.Hour)); got != time.Hour {
		t.Errorf("Until() = %v, expected %v", got, time.Hour)
	}
}

func TestMockClock_AfterFunc(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	var fired int32
	mock.AfterFunc(time.Second, func() { atomic.AddInt32(&fired, 1) })

	mock.Advance(500 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("timer fired before its deadline")
	}
	if mock.Pending() != 1 {
		t.Errorf("Pending() = %d, expected 1", mock.Pending())
	}

	mock.Advance(500 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatal("timer did not fire at its deadline")
	}

	mock.Advance(time.Hour)
	if atomic.LoadInt32(&fired) != 1 {
		t.Error("timer fired more than once")
	}
	if mock.Pending() != 0 {
		t.Errorf("Pending() = %d, expected 0", mock.Pending())
	}
}

func TestMockClock_AfterFuncOrder(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	var order []int
	mock.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	mock.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	mock.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	mock.Advance(10 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("timers fired in order %v, expected [1 2 3]", order)
	}
}

func TestMockClock_TimerStop(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	fired := false
	timer := mock.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Error("Stop() on pending timer should return true")
	}
	if timer.Stop() {
		t.Error("second Stop() should return false")
	}

	mock.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestMockClock_TimerRegisteredFromCallback(t *testing.T) {
	mock := NewMockClock(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))

	second := false
	mock.AfterFunc(time.Second, func() {
		mock.AfterFunc(0, func() { second = true })
	})

	mock.Advance(time.Second)
	if !second {
		t.Error("zero-delay timer registered from a callback should fire in the same Advance")
	}
}

func TestClockInterface(t *testing.T) {
	// Verify both implementations satisfy the Clock interface
	var _ Clock = &RealClock{}
	var _ Clock = &MockClock{}
}

func TestRealClock_AfterFunc(t *testing.T) {
	c := &RealClock{}
	done := make(chan struct{})
	c.AfterFunc(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RealClock.AfterFunc did not fire")
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != Default {
		t.Error("OrDefault(nil) should return Default")
	}
	mock := NewMockClock(time.Now())
	if OrDefault(mock) != mock {
		t.Error("OrDefault should return a non-nil clock unchanged")
	}
}

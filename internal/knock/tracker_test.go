package knock

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSequence = []int{1234, 5678, 9012}
	testWindow   = 10 * time.Second
	t0           = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
)

func newTestTracker() *Tracker {
	return NewTracker(testSequence, testWindow, time.Minute)
}

func TestTracker_CorrectSequenceGrantsOnce(t *testing.T) {
	tr := newTestTracker()
	addr := "192.0.2.1"

	d := tr.RecordKnock(addr, 1234, t0)
	assert.False(t, d.Granted)
	assert.Equal(t, 1, d.Position)

	d = tr.RecordKnock(addr, 5678, t0.Add(time.Second))
	assert.False(t, d.Granted)
	assert.Equal(t, 2, d.Position)

	d = tr.RecordKnock(addr, 9012, t0.Add(2*time.Second))
	require.True(t, d.Granted)
	assert.Equal(t, uint64(1), d.Generation)
	assert.Equal(t, 0, tr.Progress(addr), "progress is cleared after a grant")

	// Repeating the last knock does not grant a second time.
	d = tr.RecordKnock(addr, 9012, t0.Add(3*time.Second))
	assert.False(t, d.Granted)
	assert.Equal(t, ResetNone, d.Reset)
	assert.Equal(t, uint64(1), tr.Generation(addr))
}

func TestTracker_SkippedPortNeverGrants(t *testing.T) {
	tr := newTestTracker()
	addr := "192.0.2.2"

	tr.RecordKnock(addr, 1234, t0)
	d := tr.RecordKnock(addr, 9012, t0.Add(time.Second))
	assert.False(t, d.Granted)
	assert.Equal(t, ResetMismatch, d.Reset)
	assert.Equal(t, 5678, d.Expected)
	assert.Equal(t, 0, tr.Progress(addr))

	tr.RecordKnock(addr, 1234, t0.Add(2*time.Second))
	tr.RecordKnock(addr, 5678, t0.Add(3*time.Second))
	d = tr.RecordKnock(addr, 9012, t0.Add(4*time.Second))
	assert.True(t, d.Granted, "a correct sequence after a mismatch still grants")
}

func TestTracker_MismatchedKnockIsDiscarded(t *testing.T) {
	tr := newTestTracker()
	addr := "192.0.2.3"

	tr.RecordKnock(addr, 1234, t0)
	// A second 1234 breaks the prefix. It is discarded rather than treated
	// as the start of a new attempt.
	d := tr.RecordKnock(addr, 1234, t0.Add(time.Second))
	assert.Equal(t, ResetMismatch, d.Reset)

	d = tr.RecordKnock(addr, 5678, t0.Add(2*time.Second))
	assert.Equal(t, 0, d.Position)
	d = tr.RecordKnock(addr, 9012, t0.Add(3*time.Second))
	assert.False(t, d.Granted)
}

func TestTracker_KnocksSpacedBeyondWindowNeverGrant(t *testing.T) {
	tr := newTestTracker()
	addr := "192.0.2.4"

	tr.RecordKnock(addr, 1234, t0)
	tr.RecordKnock(addr, 5678, t0.Add(6*time.Second))
	d := tr.RecordKnock(addr, 9012, t0.Add(11*time.Second))

	// 1234 expired; the surviving 5678 followed by 9012 is not a prefix.
	assert.False(t, d.Granted)
	assert.Equal(t, ResetMismatch, d.Reset)
	assert.Equal(t, 0, tr.Progress(addr))
}

func TestTracker_PartialExpiryDoesNotRestartOnFirstPort(t *testing.T) {
	tr := newTestTracker()
	addr := "192.0.2.7"

	tr.RecordKnock(addr, 1234, t0)
	tr.RecordKnock(addr, 5678, t0.Add(8*time.Second))

	// Only 1234 has left the window. The new 1234 lands behind the
	// surviving 5678 and breaks the attempt instead of starting a new one.
	d := tr.RecordKnock(addr, 1234, t0.Add(12*time.Second))
	assert.False(t, d.Granted)
	assert.Equal(t, ResetMismatch, d.Reset)
	assert.Equal(t, 0, d.Position)
	assert.Equal(t, 0, tr.Progress(addr))

	d = tr.RecordKnock(addr, 5678, t0.Add(13*time.Second))
	assert.False(t, d.Granted)
	d = tr.RecordKnock(addr, 9012, t0.Add(14*time.Second))
	assert.False(t, d.Granted)
	assert.Equal(t, uint64(0), tr.Generation(addr))
}

func TestTracker_SweepClearsBrokenTail(t *testing.T) {
	tr := newTestTracker()
	addr := "192.0.2.8"

	tr.RecordKnock(addr, 1234, t0)
	tr.RecordKnock(addr, 5678, t0.Add(8*time.Second))

	removed := tr.Sweep(t0.Add(12 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, tr.Progress(addr))
	assert.Equal(t, 0, tr.Tracked())
}

func TestTracker_KnockExactlyOneWindowOldStillCounts(t *testing.T) {
	tr := newTestTracker()
	addr := "192.0.2.5"

	tr.RecordKnock(addr, 1234, t0)
	tr.RecordKnock(addr, 5678, t0.Add(5*time.Second))
	d := tr.RecordKnock(addr, 9012, t0.Add(testWindow))
	assert.True(t, d.Granted)
}

func TestTracker_ExpiredProgressRestartsOnFirstPort(t *testing.T) {
	tr := newTestTracker()
	addr := "192.0.2.6"

	tr.RecordKnock(addr, 1234, t0)
	tr.RecordKnock(addr, 5678, t0.Add(time.Second))

	later := t0.Add(time.Minute)
	d := tr.RecordKnock(addr, 1234, later)
	assert.Equal(t, ResetExpired, d.Reset)
	assert.Equal(t, 1, d.Position, "first port after expiry starts a fresh attempt")

	tr.RecordKnock(addr, 5678, later.Add(time.Second))
	d = tr.RecordKnock(addr, 9012, later.Add(2*time.Second))
	assert.True(t, d.Granted)
}

func TestTracker_InterleavedAddressesAreIndependent(t *testing.T) {
	tr := newTestTracker()
	a, b := "192.0.2.10", "198.51.100.20"

	tr.RecordKnock(a, 1234, t0)
	tr.RecordKnock(b, 1234, t0.Add(100*time.Millisecond))
	tr.RecordKnock(a, 5678, t0.Add(200*time.Millisecond))
	// b makes a mistake; a must be unaffected.
	db := tr.RecordKnock(b, 9012, t0.Add(300*time.Millisecond))
	da := tr.RecordKnock(a, 9012, t0.Add(400*time.Millisecond))

	assert.False(t, db.Granted)
	assert.Equal(t, ResetMismatch, db.Reset)
	assert.True(t, da.Granted)
	assert.Equal(t, uint64(0), tr.Generation(b))
}

func TestTracker_GenerationIncrementsPerGrant(t *testing.T) {
	tr := newTestTracker()
	addr := "2001:db8::1"

	for i := 1; i <= 3; i++ {
		base := t0.Add(time.Duration(i) * time.Minute)
		tr.RecordKnock(addr, 1234, base)
		tr.RecordKnock(addr, 5678, base.Add(time.Second))
		d := tr.RecordKnock(addr, 9012, base.Add(2*time.Second))
		require.True(t, d.Granted)
		assert.Equal(t, uint64(i), d.Generation)
	}
}

func TestTracker_SweepKeepsGenerationsWithinRetention(t *testing.T) {
	tr := NewTracker(testSequence, testWindow, time.Minute)

	tr.RecordKnock("192.0.2.30", 1234, t0) // partial, will expire
	tr.RecordKnock("192.0.2.31", 1234, t0)
	tr.RecordKnock("192.0.2.31", 5678, t0)
	tr.RecordKnock("192.0.2.31", 9012, t0) // granted gen 1

	assert.Equal(t, 1, tr.Tracked())

	removed := tr.Sweep(t0.Add(30 * time.Second))
	assert.Equal(t, 1, removed, "expired partial progress is dropped")
	assert.Equal(t, uint64(1), tr.Generation("192.0.2.31"), "generation survives while a timer may be pending")
	assert.Equal(t, 0, tr.Tracked())

	removed = tr.Sweep(t0.Add(2 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, uint64(0), tr.Generation("192.0.2.31"))
}

func TestTracker_ScannerNoiseIsNotRetained(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < 100; i++ {
		tr.RecordKnock(fmt.Sprintf("203.0.113.%d", i), 9012, t0)
	}
	assert.Equal(t, 0, tr.Tracked())
	assert.Equal(t, 0, tr.Sweep(t0))
}

func TestTracker_ConcurrentAddresses(t *testing.T) {
	tr := newTestTracker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := make(map[string]int)

	for i := 0; i < 64; i++ {
		addr := fmt.Sprintf("10.0.%d.%d", i/256, i%256)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j, port := range testSequence {
				d := tr.RecordKnock(addr, port, t0.Add(time.Duration(j)*time.Second))
				if d.Granted {
					mu.Lock()
					granted[addr]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, granted, 64)
	for addr, n := range granted {
		assert.Equal(t, 1, n, addr)
	}
}

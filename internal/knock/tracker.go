package knock

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// Tracker holds per-address knock progress and grant generations.
// Addresses hash into shards so unrelated sources never contend; knocks from
// one address are applied one at a time in arrival order.
type Tracker struct {
	sequence  []int
	window    time.Duration
	retention time.Duration
	shards    [shardCount]*trackerShard
}

type trackerShard struct {
	mu      sync.Mutex
	records map[string]*progress
}

type progress struct {
	knocks     []knockAt
	generation uint64
	lastGrant  time.Time
}

type knockAt struct {
	port int
	at   time.Time
}

// NewTracker creates a tracker for sequence and window. retention is how long
// a generation is remembered after the last grant; it must cover the grant
// TTL so a pending revocation timer never observes a forgotten generation.
func NewTracker(sequence []int, window, retention time.Duration) *Tracker {
	t := &Tracker{
		sequence:  append([]int(nil), sequence...),
		window:    window,
		retention: retention,
	}
	for i := range t.shards {
		t.shards[i] = &trackerShard{records: make(map[string]*progress)}
	}
	return t
}

func (t *Tracker) shard(addr string) *trackerShard {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return t.shards[h.Sum32()%shardCount]
}

// RecordKnock applies one knock from addr on port observed at now.
func (t *Tracker) RecordKnock(addr string, port int, now time.Time) Decision {
	s := t.shard(addr)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[addr]
	if !ok {
		rec = &progress{}
		s.records[addr] = rec
	}

	var d Decision
	if t.prune(rec, now) {
		d.Reset = ResetExpired
	}
	hadProgress := len(rec.knocks) > 0

	rec.knocks = append(rec.knocks, knockAt{port: port, at: now})

	if t.complete(rec) {
		rec.knocks = rec.knocks[:0]
		rec.generation++
		rec.lastGrant = now
		d.Granted = true
		d.Generation = rec.generation
		d.Position = len(t.sequence)
		return d
	}

	// Progress is a strict prefix before the prune, so pos never exceeds
	// the sequence length.
	pos := len(rec.knocks)
	d.Expected = t.sequence[pos-1]
	if !t.isPrefix(rec.knocks) {
		// The knock that broke the attempt is discarded with it; it does not
		// start a new one.
		rec.knocks = rec.knocks[:0]
		if hadProgress {
			d.Reset = ResetMismatch
		}
		if rec.generation == 0 {
			delete(s.records, addr)
		}
		return d
	}

	d.Position = pos
	return d
}

// prune drops knocks older than the window; a knock exactly one window old
// still counts. Knocks still inside the window are kept even when an earlier
// one expired, so the surviving tail is judged like any other progress. It
// reports whether anything was discarded.
func (t *Tracker) prune(rec *progress, now time.Time) bool {
	if len(rec.knocks) == 0 {
		return false
	}
	cutoff := now.Add(-t.window)
	kept := rec.knocks[:0]
	for _, k := range rec.knocks {
		if !k.at.Before(cutoff) {
			kept = append(kept, k)
		}
	}
	dropped := len(kept) < len(rec.knocks)
	rec.knocks = kept
	return dropped
}

func (t *Tracker) isPrefix(knocks []knockAt) bool {
	if len(knocks) > len(t.sequence) {
		return false
	}
	for i, k := range knocks {
		if k.port != t.sequence[i] {
			return false
		}
	}
	return true
}

func (t *Tracker) complete(rec *progress) bool {
	if len(rec.knocks) != len(t.sequence) {
		return false
	}
	for i, k := range rec.knocks {
		if k.port != t.sequence[i] {
			return false
		}
	}
	return true
}

// Generation returns the current grant generation for addr, zero if the
// address has never completed the sequence.
func (t *Tracker) Generation(addr string) uint64 {
	s := t.shard(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[addr]; ok {
		return rec.generation
	}
	return 0
}

// Progress returns how many knocks of the sequence addr has made.
func (t *Tracker) Progress(addr string) int {
	s := t.shard(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[addr]; ok {
		return len(rec.knocks)
	}
	return 0
}

// Sweep forgets addresses with no live progress whose generation is no
// longer needed by any revocation timer. It returns how many were removed.
func (t *Tracker) Sweep(now time.Time) int {
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for addr, rec := range s.records {
			if t.prune(rec, now) && !t.isPrefix(rec.knocks) {
				rec.knocks = rec.knocks[:0]
			}
			if len(rec.knocks) > 0 {
				continue
			}
			if rec.generation > 0 && now.Sub(rec.lastGrant) <= t.retention {
				continue
			}
			delete(s.records, addr)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// Tracked returns the number of addresses with knock progress in flight.
func (t *Tracker) Tracked() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for _, rec := range s.records {
			if len(rec.knocks) > 0 {
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

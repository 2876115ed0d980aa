package track

import (
	"sync"
	"time"

	"github.com/rkpu-viewer/livetrack/pkg/feed"
)

// DefaultMaxTrailPoints is the hard safety cap on points per trail.
const DefaultMaxTrailPoints = 600

// Point is one historical or live-sampled position in a trail.
type Point struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AltitudeM  float64   `json:"altitudeM"`
	AltitudeFt float64   `json:"altitudeFt,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store is an in-memory mapping from aircraft ID to an ordered, time-bounded,
// length-bounded trail of positions. It owns insertion, pruning, and
// eviction and performs no I/O of its own.
//
// Store is safe for concurrent use: the engine mutates it from the poll
// cycle while API handlers read copies.
type Store struct {
	mu        sync.RWMutex
	trails    map[string][]Point
	window    time.Duration
	maxPoints int

	// now is the clock; replaced in tests
	now func() time.Time
}

// NewStore creates a store keeping points no older than window, at most
// maxPoints per aircraft.
func NewStore(window time.Duration, maxPoints int) *Store {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxTrailPoints
	}
	return &Store{
		trails:    make(map[string][]Point),
		window:    window,
		maxPoints: maxPoints,
		now:       time.Now,
	}
}

// SetWindow updates the trail duration. The new window takes effect on the
// next Upsert; it is user-adjustable at runtime.
func (s *Store) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = window
}

// Window returns the current trail duration.
func (s *Store) Window() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window
}

// Upsert merges one completed poll cycle into the store:
//
//  1. trails for newly-backfilled aircraft are seeded from backfill, but
//     only if the trail is currently empty;
//  2. every aircraft in the snapshot gets a live point appended if its
//     position moved;
//  3. every touched trail is pruned to the time window and length cap.
//
// Eviction of disappeared aircraft is separate, see EvictStale.
func (s *Store) Upsert(snapshot []feed.Aircraft, backfill map[string][]Point) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	for id, points := range backfill {
		if len(s.trails[id]) > 0 {
			continue
		}
		trail := make([]Point, 0, len(points))
		var last *Point
		for _, pt := range points {
			// Defend the monotonicity invariant against a disordered
			// upstream trace.
			if last != nil && pt.Timestamp.Before(last.Timestamp) {
				continue
			}
			trail = append(trail, pt)
			last = &trail[len(trail)-1]
		}
		s.trails[id] = s.prune(trail, now)
	}

	for _, ac := range snapshot {
		trail := s.trails[ac.ID]
		appendLive := true
		if n := len(trail); n > 0 {
			last := trail[n-1]
			// No duplicate stationary samples, and never break the
			// timestamp ordering invariant.
			if (last.Lat == ac.Lat && last.Lon == ac.Lon) || ac.ObservedAt.Before(last.Timestamp) {
				appendLive = false
			}
		}
		if appendLive {
			trail = append(trail, Point{
				Lat:        ac.Lat,
				Lon:        ac.Lon,
				AltitudeM:  ac.AltitudeM,
				AltitudeFt: ac.AltitudeFt,
				Timestamp:  ac.ObservedAt,
			})
		}
		s.trails[ac.ID] = s.prune(trail, now)
	}
}

// EvictStale deletes every trail whose ID is absent from active. An aircraft
// missing from one snapshot loses its trail immediately; there is no grace
// period.
func (s *Store) EvictStale(active map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.trails {
		if _, ok := active[id]; !ok {
			delete(s.trails, id)
		}
	}
}

// Get returns a copy of one aircraft's trail, or nil if it is not tracked.
func (s *Store) Get(id string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail, ok := s.trails[id]
	if !ok {
		return nil
	}
	out := make([]Point, len(trail))
	copy(out, trail)
	return out
}

// All returns a copy of every trail keyed by aircraft ID.
func (s *Store) All() map[string][]Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Point, len(s.trails))
	for id, trail := range s.trails {
		cp := make([]Point, len(trail))
		copy(cp, trail)
		out[id] = cp
	}
	return out
}

// Len returns the number of tracked aircraft.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trails)
}

// prune drops points older than the window, then trims to the length cap,
// oldest first. Caller holds the lock.
func (s *Store) prune(trail []Point, now time.Time) []Point {
	cutoff := now.Add(-s.window)
	start := 0
	for start < len(trail) && trail[start].Timestamp.Before(cutoff) {
		start++
	}
	trail = trail[start:]
	if len(trail) > s.maxPoints {
		trail = trail[len(trail)-s.maxPoints:]
	}
	return trail
}

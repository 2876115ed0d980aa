package track

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rkpu-viewer/livetrack/pkg/feed"
)

// FeedClient is the upstream surface the engine depends on. *feed.Client
// satisfies it; tests substitute fakes.
type FeedClient interface {
	Positions(ctx context.Context, lat, lon, radiusNM float64) ([]feed.Aircraft, error)
	Trace(ctx context.Context, id string, window time.Duration) ([]feed.TracePoint, error)
}

// Config holds the engine's tunables. Zero values fall back to the defaults
// noted per field.
type Config struct {
	// CenterLat/CenterLon/RadiusNM define the poll area
	CenterLat float64
	CenterLon float64
	RadiusNM  float64

	// PollInterval between snapshot fetches (default 15s)
	PollInterval time.Duration

	// TrailDuration is the rolling time window per trail (default 10m)
	TrailDuration time.Duration

	// MaxTrailPoints caps each trail's length
	MaxTrailPoints int

	// TraceBatchFirstLoad bounds the trace backfill batch on a cold start,
	// when no backfill has been attempted yet. 0 means unbounded.
	TraceBatchFirstLoad int

	// TraceBatchPerCycle bounds the backfill batch on warm cycles
	// (default 3)
	TraceBatchPerCycle int

	// BackoffBase/BackoffMax configure the rate-limit controller
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Status is a read-only view of the engine for the API surface.
type Status struct {
	Running       bool      `json:"running"`
	LastCycle     time.Time `json:"lastCycle"`
	AircraftCount int       `json:"aircraftCount"`
	TrailCount    int       `json:"trailCount"`

	BackoffHits  int           `json:"backoffHits"`
	BackoffDelay time.Duration `json:"backoffDelayNs"`
}

// Engine is the lifecycle manager: it schedules poll cycles on a fixed
// interval, supersedes any in-flight cycle when a new one starts, batches
// trace backfill with bounded concurrency, and merges results into the
// Store. All mutable state (store, backoff, traces-loaded registry) is owned
// by the engine; external consumers only ever see copies.
type Engine struct {
	cfg    Config
	feed   FeedClient
	store  *Store
	logger *log.Logger

	mu          sync.Mutex
	running     bool
	rootCancel  context.CancelFunc
	cycleCancel context.CancelFunc

	// generation identifies the current poll cycle. A cycle compares its
	// token before merging; a superseded cycle's results are discarded even
	// if transport-level cancellation did not land in time.
	generation uint64

	backoff *Backoff

	// loaded is the set of aircraft IDs whose trace backfill has been
	// attempted. Entries are dropped when the aircraft disappears so a
	// re-appearance triggers a fresh backfill.
	loaded map[string]struct{}

	snapshot  []feed.Aircraft
	lastCycle time.Time

	// updates receives one token per completed poll cycle
	updates chan struct{}

	// now is the clock; replaced in tests
	now func() time.Time
}

// NewEngine creates an engine. The feed client is required; the store is
// created internally from the config's window and cap.
func NewEngine(cfg Config, fc FeedClient, logger *log.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.TrailDuration <= 0 {
		cfg.TrailDuration = 10 * time.Minute
	}
	if cfg.TraceBatchPerCycle <= 0 {
		cfg.TraceBatchPerCycle = 3
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cfg:     cfg,
		feed:    fc,
		store:   NewStore(cfg.TrailDuration, cfg.MaxTrailPoints),
		logger:  logger,
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		loaded:  make(map[string]struct{}),
		updates: make(chan struct{}, 1),
		now:     time.Now,
	}
}

// Start schedules an immediate poll and then one per interval. Calling Start
// while already started is a no-op; two concurrent timers are never
// scheduled.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	ctx, cancel := context.WithCancel(context.Background())
	e.rootCancel = cancel
	go e.run(ctx)
}

// Stop clears the timer and cancels any in-flight cycle. After Stop returns,
// no previously scheduled work can mutate the store or the published
// snapshot.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	// Invalidate every outstanding cycle token so a late arrival is
	// discarded even if its context cancellation races the merge.
	e.generation++
	if e.cycleCancel != nil {
		e.cycleCancel()
		e.cycleCancel = nil
	}
	if e.rootCancel != nil {
		e.rootCancel()
		e.rootCancel = nil
	}
}

// Updates returns a channel that receives one token per completed poll
// cycle. The channel is never closed; a slow consumer misses tokens, never
// blocks the engine.
func (e *Engine) Updates() <-chan struct{} { return e.updates }

// Snapshot returns the aircraft list as of the most recently completed
// cycle.
func (e *Engine) Snapshot() []feed.Aircraft {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]feed.Aircraft, len(e.snapshot))
	copy(out, e.snapshot)
	return out
}

// Trails returns a copy of every trail.
func (e *Engine) Trails() map[string][]Point { return e.store.All() }

// Trail returns a copy of one aircraft's trail, or nil if untracked.
func (e *Engine) Trail(id string) []Point { return e.store.Get(id) }

// SetTrailDuration adjusts the rolling window at runtime.
func (e *Engine) SetTrailDuration(d time.Duration) { e.store.SetWindow(d) }

// Status returns a point-in-time view for the API surface.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:       e.running,
		LastCycle:     e.lastCycle,
		AircraftCount: len(e.snapshot),
		TrailCount:    e.store.Len(),
		BackoffHits:   e.backoff.Hits(),
		BackoffDelay:  e.backoff.Delay(),
	}
}

// run drives the fixed-interval timer. Errors never escape a cycle; the
// ticker keeps firing regardless of any single cycle's outcome.
func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.startCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.startCycle(ctx)
		}
	}
}

// startCycle begins one poll cycle unless the backoff controller says to
// skip. Any cycle still in flight is cancelled first: a slow response from
// cycle N must never overwrite state after cycle N+1 has completed.
func (e *Engine) startCycle(root context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if e.backoff.ShouldSkip(e.now()) {
		e.logger.Printf("track: poll skipped, backing off %v after %d rate limits",
			e.backoff.Delay(), e.backoff.Hits())
		e.mu.Unlock()
		return
	}
	if e.cycleCancel != nil {
		e.cycleCancel()
	}
	ctx, cancel := context.WithCancel(root)
	e.cycleCancel = cancel
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	go e.cycle(ctx, gen)
}

// cycle performs one poll: snapshot fetch, trace backfill for unseen
// airborne aircraft, then a single merge guarded by the generation token.
func (e *Engine) cycle(ctx context.Context, gen uint64) {
	started := e.now()

	snapshot, err := e.feed.Positions(ctx, e.cfg.CenterLat, e.cfg.CenterLon, e.cfg.RadiusNM)
	if err != nil {
		e.finishFailed(gen, err)
		return
	}

	pending, firstLoad := e.pickBackfill(gen, snapshot)
	backfill := e.loadTraces(ctx, pending, firstLoad)

	e.merge(gen, started, snapshot, pending, backfill)
}

// finishFailed records a failed snapshot fetch. Rate limits feed the backoff
// controller; cancellation is silent; everything else is logged and the
// previous state is retained verbatim.
func (e *Engine) finishFailed(gen uint64, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || !e.running {
		return
	}
	if rle, ok := feed.IsRateLimitError(err); ok {
		e.backoff.OnRateLimited(e.now())
		e.logger.Printf("track: position feed rate limited (retry-after %v), next poll in %v",
			rle.RetryAfter, e.backoff.Delay())
		return
	}
	e.logger.Printf("track: poll failed, keeping previous state: %v", err)
}

// pickBackfill selects the aircraft needing trace backfill this cycle:
// airborne, present in the snapshot, and never attempted before. The batch
// is unbounded on a cold start (subject to TraceBatchFirstLoad) and capped
// at TraceBatchPerCycle afterwards.
func (e *Engine) pickBackfill(gen uint64, snapshot []feed.Aircraft) ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || !e.running {
		return nil, false
	}

	firstLoad := len(e.loaded) == 0
	var pending []string
	for _, ac := range snapshot {
		if ac.OnGround || ac.ID == "" {
			continue
		}
		if _, ok := e.loaded[ac.ID]; ok {
			continue
		}
		pending = append(pending, ac.ID)
	}

	limit := e.cfg.TraceBatchPerCycle
	if firstLoad {
		limit = e.cfg.TraceBatchFirstLoad
		if limit <= 0 {
			limit = len(pending)
		}
	}
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, firstLoad
}

// loadTraces fetches historical paths for the pending IDs concurrently and
// waits for the whole batch to settle before returning. A failed trace
// contributes nothing; it never aborts the batch.
func (e *Engine) loadTraces(ctx context.Context, ids []string, firstLoad bool) map[string][]Point {
	if len(ids) == 0 {
		return nil
	}

	window := e.store.Window()
	results := make([][]feed.TracePoint, len(ids))

	var eg errgroup.Group
	if !firstLoad {
		eg.SetLimit(e.cfg.TraceBatchPerCycle)
	}
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			pts, err := e.feed.Trace(ctx, id, window)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					e.logger.Printf("track: trace backfill for %s failed: %v", id, err)
				}
				return nil
			}
			results[i] = pts
			return nil
		})
	}
	// Settle all, then merge; workers only return nil.
	_ = eg.Wait()

	backfill := make(map[string][]Point, len(ids))
	for i, id := range ids {
		if results[i] == nil {
			continue
		}
		points := make([]Point, 0, len(results[i]))
		for _, p := range results[i] {
			points = append(points, Point{
				Lat:        p.Lat,
				Lon:        p.Lon,
				AltitudeM:  p.AltitudeFt * feed.MetersPerFoot,
				AltitudeFt: p.AltitudeFt,
				Timestamp:  p.Timestamp,
			})
		}
		backfill[id] = points
	}
	return backfill
}

// merge applies one settled cycle to the store and publishes the snapshot.
// A cycle superseded while its requests were in flight is discarded here
// unconditionally, even if every response was valid.
func (e *Engine) merge(gen uint64, started time.Time, snapshot []feed.Aircraft, attempted []string, backfill map[string][]Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || !e.running {
		return
	}

	e.backoff.OnSuccess()

	e.store.Upsert(snapshot, backfill)

	active := make(map[string]struct{}, len(snapshot))
	for _, ac := range snapshot {
		active[ac.ID] = struct{}{}
	}
	e.store.EvictStale(active)

	// Backfill counts as attempted whether or not the trace came back;
	// a missing trace is not retried while the aircraft stays visible.
	for _, id := range attempted {
		e.loaded[id] = struct{}{}
	}
	for id := range e.loaded {
		if _, ok := active[id]; !ok {
			delete(e.loaded, id)
		}
	}

	e.snapshot = snapshot
	e.lastCycle = started

	select {
	case e.updates <- struct{}{}:
	default:
	}
}

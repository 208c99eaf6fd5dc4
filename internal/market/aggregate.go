package market

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"nftstorefront/internal/metrics"
)

// Snapshot is the externally visible state of an Aggregator.
type Snapshot struct {
	// Cycle is the token of the cycle whose result this is; 0 before any.
	Cycle     uint64
	Status    Status
	Listings  []Listing
	Source    string
	Err       error
	UpdatedAt time.Time

	records []Record
}

// Records returns the raw records behind Listings, in the same order.
func (s Snapshot) Records() []Record { return s.records }

// Aggregator fetches and normalizes one listing feed. Every call to Aggregate
// starts a new cycle with a larger token; a result is applied only if no
// later cycle has started in the meantime.
type Aggregator struct {
	name       string
	resolver   *EndpointResolver
	candidates []Candidate
	fallbacks  Fallbacks
	countdowns *CountdownCache
	clock      func() time.Time
	minLoading time.Duration
	logger     *zap.Logger
	metrics    *metrics.Registry
	onUpdate   func(Snapshot)

	latest atomic.Uint64

	mu      sync.Mutex
	state   Snapshot
	settled Status
	// dead is the last token that ended while still the latest without
	// being applied.
	dead    uint64
	applied chan struct{}
}

// ErrCycleAbandoned is returned by Await when no cycle that could satisfy it
// is still running.
var ErrCycleAbandoned = errors.New("market: awaited cycle was abandoned")

// AggregatorOption customises an Aggregator.
type AggregatorOption func(*Aggregator)

// WithFallbacks sets the fallback images used during normalization.
func WithFallbacks(fb Fallbacks) AggregatorOption {
	return func(a *Aggregator) { a.fallbacks = fb }
}

// WithCountdownCache shares a session countdown cache.
func WithCountdownCache(c *CountdownCache) AggregatorOption {
	return func(a *Aggregator) {
		if c != nil {
			a.countdowns = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithMinLoading holds each cycle's result back until at least d has passed
// since the cycle started.
func WithMinLoading(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.minLoading = d }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics attaches a metrics registry.
func WithMetrics(reg *metrics.Registry) AggregatorOption {
	return func(a *Aggregator) { a.metrics = reg }
}

// WithOnUpdate registers a callback invoked after each applied state change.
func WithOnUpdate(fn func(Snapshot)) AggregatorOption {
	return func(a *Aggregator) { a.onUpdate = fn }
}

// NewAggregator builds an aggregator for the named feed.
func NewAggregator(name string, resolver *EndpointResolver, candidates []Candidate, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		name:       name,
		resolver:   resolver,
		candidates: candidates,
		fallbacks:  DefaultFallbacks,
		countdowns: NewCountdownCache(),
		clock:      time.Now,
		logger:     zap.NewNop(),
		state:      Snapshot{Status: StatusLoading},
		settled:    StatusLoading,
		applied:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("feed", name))
	return a
}

// Snapshot returns the current visible state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Supersede invalidates any in-flight cycle without starting a new one. It
// is what a consumer calls when it is torn down.
func (a *Aggregator) Supersede() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dead = a.latest.Add(1)
	a.broadcast()
}

// Aggregate runs one fetch-and-normalize cycle. It returns this cycle's own
// result and whether that result was applied to the visible state.
func (a *Aggregator) Aggregate(ctx context.Context, sort SortKey) (Snapshot, bool) {
	token := a.latest.Add(1)
	start := a.clock()
	a.markLoading(token)

	result := Snapshot{Cycle: token}
	res, err := a.resolver.ResolveFirstUsable(ctx, a.candidates, sort)
	switch {
	case err == nil:
		result.Status = StatusSuccess
		result.Source = res.Source
		result.records = res.Records
		result.Listings = a.normalize(res.Records, a.clock())
	case errors.Is(err, ErrUnavailable):
		a.logger.Error("all candidate endpoints exhausted", zap.Uint64("cycle", token), zap.Error(err))
		result.Status = StatusUnavailable
		result.Err = err
		result.Listings = []Listing{}
	default:
		a.logger.Debug("cycle abandoned", zap.Uint64("cycle", token), zap.Error(err))
		return a.abandon(token), false
	}

	if wait := a.minLoading - a.clock().Sub(start); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return a.abandon(token), false
		}
	}

	result.UpdatedAt = a.clock()
	return result, a.apply(token, result)
}

// Await blocks until the result of cycle (or a later one) is visible. When
// the latest cycle ended unapplied and nothing visible satisfies cycle, it
// returns the current state with ErrCycleAbandoned.
func (a *Aggregator) Await(ctx context.Context, cycle uint64) (Snapshot, error) {
	for {
		a.mu.Lock()
		state, ch := a.state, a.applied
		abandoned := a.dead >= cycle && a.dead == a.latest.Load()
		a.mu.Unlock()
		if state.Cycle >= cycle && state.Status != StatusLoading {
			return state, nil
		}
		if abandoned {
			return state, ErrCycleAbandoned
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

func (a *Aggregator) markLoading(token uint64) {
	a.mu.Lock()
	if token != a.latest.Load() {
		a.mu.Unlock()
		return
	}
	a.state.Status = StatusLoading
	snap := a.state
	a.mu.Unlock()

	if a.onUpdate != nil {
		a.onUpdate(snap)
	}
}

// abandon puts the last settled status back when the abandoned cycle was
// still the latest one, and wakes waiters so they can stop expecting it.
func (a *Aggregator) abandon(token uint64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if token == a.latest.Load() {
		a.state.Status = a.settled
		a.dead = token
		a.broadcast()
	}
	return a.state
}

// broadcast wakes every Await. Callers hold a.mu.
func (a *Aggregator) broadcast() {
	close(a.applied)
	a.applied = make(chan struct{})
}

func (a *Aggregator) apply(token uint64, result Snapshot) bool {
	a.mu.Lock()
	if token != a.latest.Load() {
		a.mu.Unlock()
		a.logger.Debug("discarding stale cycle result", zap.Uint64("cycle", token))
		if a.metrics != nil {
			a.metrics.StaleDiscarded.WithLabelValues(a.name).Inc()
		}
		return false
	}
	a.state = result
	a.settled = result.Status
	a.broadcast()
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.Cycles.WithLabelValues(a.name, string(result.Status)).Inc()
		a.metrics.CountdownCached.Set(float64(a.countdowns.Len()))
	}
	a.logger.Info("feed updated",
		zap.Uint64("cycle", token),
		zap.String("status", string(result.Status)),
		zap.String("source", result.Source),
		zap.Int("listings", len(result.Listings)))
	if a.onUpdate != nil {
		a.onUpdate(result)
	}
	return true
}

func (a *Aggregator) normalize(records []Record, now time.Time) []Listing {
	listings := make([]Listing, len(records))
	for i, r := range records {
		l := NormalizeListing(r, i, a.fallbacks)
		var end int64
		var ok bool
		if l.SyntheticID {
			end, ok = ResolveEndTimestamp(r, now)
		} else {
			end, ok = a.countdowns.Resolve(l.ID, r, now)
		}
		if ok {
			l.CountdownEndMs = &end
		}
		listings[i] = l
	}
	return listings
}

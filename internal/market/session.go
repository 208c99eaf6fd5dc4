package market

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"nftstorefront/internal/metrics"
)

// Feed names, also used as metric labels.
const (
	FeedExplore  = "explore"
	FeedNewItems = "new_items"
)

// SessionConfig wires a Session to its upstreams.
type SessionConfig struct {
	ExploreCandidates  []Candidate
	NewItemsCandidates []Candidate
	HotCollectionsURL  string
	TopSellersURL      string
	ItemDetailsURL     string
	AuthorsURL         string

	Fallbacks       Fallbacks
	MinLoading      time.Duration
	RefreshInterval time.Duration
	InitialCount    int
	LoadMoreStep    int
	Clock           func() time.Time
}

// ListingView is a listing plus its rendered countdown at the time of the view.
type ListingView struct {
	Listing
	Countdown string `json:"countdown,omitempty"`
	Expired   bool   `json:"expired,omitempty"`
}

// FeedView is what the rendering layer receives for a listing feed.
type FeedView struct {
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Sort        SortKey       `json:"sort,omitempty"`
	Listings    []ListingView `json:"listings"`
	Total       int           `json:"total"`
	CanLoadMore bool          `json:"can_load_more"`
	Source      string        `json:"source,omitempty"`
}

// maxFeedAttempts bounds how often one request restarts a feed whose
// superseding cycles keep being abandoned.
const maxFeedAttempts = 3

// ErrSessionClosed is returned by feed requests after Close.
var ErrSessionClosed = errors.New("market: session closed")

// Session owns the state of one browsing session: the feeds, the countdown
// cache and the cached author records.
type Session struct {
	id      string
	cfg     SessionConfig
	fetcher Fetcher
	logger  *zap.Logger

	countdowns *CountdownCache
	explore    *Aggregator
	newItems   *Aggregator

	closed atomic.Bool

	authorsMu      sync.RWMutex
	authorRecords  []Record
	authorsFetched time.Time
	authorsFlight  singleflight.Group
}

// NewSession builds a session. logger and reg may be nil.
func NewSession(fetcher Fetcher, cfg SessionConfig, logger *zap.Logger, reg *metrics.Registry) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	cfg.Fallbacks = cfg.Fallbacks.orDefault()

	id := uuid.NewString()
	logger = logger.With(zap.String("session", id))
	countdowns := NewCountdownCache()
	resolver := NewEndpointResolver(fetcher, logger, reg)

	opts := []AggregatorOption{
		WithFallbacks(cfg.Fallbacks),
		WithCountdownCache(countdowns),
		WithClock(cfg.Clock),
		WithMinLoading(cfg.MinLoading),
		WithLogger(logger),
		WithMetrics(reg),
	}

	return &Session{
		id:         id,
		cfg:        cfg,
		fetcher:    fetcher,
		logger:     logger,
		countdowns: countdowns,
		explore:    NewAggregator(FeedExplore, resolver, cfg.ExploreCandidates, opts...),
		newItems:   NewAggregator(FeedNewItems, resolver, cfg.NewItemsCandidates, opts...),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Close discards whatever the feeds still have in flight.
func (s *Session) Close() {
	s.closed.Store(true)
	s.explore.Supersede()
	s.newItems.Supersede()
}

// Explore returns the explore feed ordered by sort with at least count
// listings revealed (or all of them).
func (s *Session) Explore(ctx context.Context, sort SortKey, count int) (FeedView, error) {
	snap, err := s.feed(ctx, s.explore, sort)
	if err != nil {
		return FeedView{}, err
	}
	return s.view(ctx, snap, sort, count, "Explore unavailable: the explore API didn't return a valid list."), nil
}

// NewItems returns the whole new-items feed in upstream order.
func (s *Session) NewItems(ctx context.Context) (FeedView, error) {
	snap, err := s.feed(ctx, s.newItems, SortNone)
	if err != nil {
		return FeedView{}, err
	}
	return s.view(ctx, snap, SortNone, len(snap.Listings), "New items are unavailable right now."), nil
}

// feed returns the feed's visible state, starting a new cycle when the
// current one is missing, failed or older than the refresh interval.
func (s *Session) feed(ctx context.Context, agg *Aggregator, sort SortKey) (Snapshot, error) {
	snap := agg.Snapshot()
	fresh := snap.Cycle > 0 &&
		snap.Status == StatusSuccess &&
		s.cfg.RefreshInterval > 0 &&
		s.cfg.Clock().Sub(snap.UpdatedAt) < s.cfg.RefreshInterval
	if fresh {
		return snap, nil
	}

	for attempt := 1; ; attempt++ {
		if s.closed.Load() {
			return Snapshot{}, ErrSessionClosed
		}
		if err := ctx.Err(); err != nil {
			return Snapshot{}, fmt.Errorf("await %s feed: %w", agg.name, err)
		}

		res, applied := agg.Aggregate(ctx, sort)
		if applied {
			return res, nil
		}
		latest, err := agg.Await(ctx, res.Cycle+1)
		if err == nil {
			return latest, nil
		}
		if !errors.Is(err, ErrCycleAbandoned) || attempt >= maxFeedAttempts {
			return Snapshot{}, fmt.Errorf("await %s feed: %w", agg.name, err)
		}
		s.logger.Debug("superseding cycle abandoned, starting another",
			zap.String("feed", agg.name), zap.Int("attempt", attempt))
	}
}

func (s *Session) view(ctx context.Context, snap Snapshot, sort SortKey, count int, unavailable string) FeedView {
	v := FeedView{Status: snap.Status, Sort: sort, Source: snap.Source, Listings: []ListingView{}}
	switch snap.Status {
	case StatusUnavailable:
		v.Message = unavailable
		return v
	case StatusLoading:
		v.Message = "Loading NFTs…"
		return v
	}

	index := BuildAuthorIndex(s.cachedAuthors(ctx), snap.Records(), s.cfg.Fallbacks)
	listings := make([]Listing, len(snap.Listings))
	for i, l := range snap.Listings {
		listings[i] = index.Apply(l)
	}

	b := NewBrowser(listings, s.cfg.InitialCount, s.cfg.LoadMoreStep)
	b.SetSort(sort)
	for len(b.Visible()) < count && b.CanLoadMore() {
		b.LoadMore(0)
	}

	v.Listings = s.render(b.Visible())
	v.Total = b.Total()
	v.CanLoadMore = b.CanLoadMore()
	return v
}

func (s *Session) render(listings []Listing) []ListingView {
	nowMs := s.cfg.Clock().UnixMilli()
	out := make([]ListingView, len(listings))
	for i, l := range listings {
		out[i] = ListingView{Listing: l}
		if l.CountdownEndMs != nil {
			out[i].Countdown = FormatRemaining(*l.CountdownEndMs, nowMs)
			out[i].Expired = Expired(*l.CountdownEndMs, nowMs)
		}
	}
	return out
}

// cachedAuthors returns the full author records, refetching them when older
// than the refresh interval. Failures leave the index to inline fragments.
func (s *Session) cachedAuthors(ctx context.Context) []Record {
	if s.cfg.AuthorsURL == "" {
		return nil
	}
	s.authorsMu.RLock()
	records, fetched := s.authorRecords, s.authorsFetched
	s.authorsMu.RUnlock()
	if !fetched.IsZero() && s.cfg.Clock().Sub(fetched) < s.cfg.RefreshInterval {
		return records
	}

	v, err, _ := s.authorsFlight.Do("authors", func() (interface{}, error) {
		payload, err := s.fetcher.Get(ctx, s.cfg.AuthorsURL, nil)
		if err != nil {
			return nil, err
		}
		fetchedRecords := []Record{}
		if root := rootOf(payload); root != nil {
			if _, ok := root.Data().([]interface{}); ok {
				fetchedRecords = root.Children()
			}
		}
		s.authorsMu.Lock()
		s.authorRecords = fetchedRecords
		s.authorsFetched = s.cfg.Clock()
		s.authorsMu.Unlock()
		return fetchedRecords, nil
	})
	if err != nil {
		s.logger.Warn("authors list unavailable", zap.Error(err))
		return records
	}
	return v.([]Record)
}

// Item loads one item's detail page. The item and the author list are
// fetched concurrently.
func (s *Session) Item(ctx context.Context, id string) (ItemDetail, ListingView, error) {
	var payload Record
	var authors []Record

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.fetcher.Get(gctx, s.cfg.ItemDetailsURL, url.Values{"nftId": {id}})
		if err != nil {
			return fmt.Errorf("item %s: %w", id, err)
		}
		payload = p
		return nil
	})
	g.Go(func() error {
		authors = s.cachedAuthors(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return ItemDetail{}, ListingView{}, err
	}

	detail, err := NormalizeItemDetail(payload, id, BuildAuthorIndex(authors, nil, s.cfg.Fallbacks), s.cfg.Fallbacks)
	if err != nil {
		return ItemDetail{}, ListingView{}, fmt.Errorf("item %s: %w", id, err)
	}
	if end, ok := s.countdowns.Resolve(detail.Listing.ID, rootOf(payload), s.cfg.Clock()); ok {
		detail.Listing.CountdownEndMs = &end
	}
	return detail, s.render([]Listing{detail.Listing})[0], nil
}

// Author loads one author's profile and collection.
func (s *Session) Author(ctx context.Context, id string) (AuthorProfile, []ListingView, error) {
	payload, err := s.fetcher.Get(ctx, s.cfg.AuthorsURL, url.Values{"author": {id}})
	if err != nil {
		return AuthorProfile{}, nil, fmt.Errorf("author %s: %w", id, err)
	}
	profile, err := NormalizeAuthorProfile(payload, id, s.cfg.Fallbacks)
	if err != nil {
		return AuthorProfile{}, nil, fmt.Errorf("author %s: %w", id, err)
	}

	now := s.cfg.Clock()
	for i, r := range profile.Records() {
		l := &profile.Listings[i]
		var end int64
		var ok bool
		if l.SyntheticID {
			end, ok = ResolveEndTimestamp(r, now)
		} else {
			end, ok = s.countdowns.Resolve(l.ID, r, now)
		}
		if ok {
			l.CountdownEndMs = &end
		}
	}
	return profile, s.render(profile.Listings), nil
}

// TopSellers loads the top-sellers board.
func (s *Session) TopSellers(ctx context.Context) ([]Seller, error) {
	payload, err := s.fetcher.Get(ctx, s.cfg.TopSellersURL, nil)
	if err != nil {
		return nil, fmt.Errorf("top sellers: %w", err)
	}
	return NormalizeTopSellers(payload, s.cfg.Fallbacks), nil
}

// HotCollections loads the hot-collections carousel.
func (s *Session) HotCollections(ctx context.Context) ([]Collection, error) {
	payload, err := s.fetcher.Get(ctx, s.cfg.HotCollectionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("hot collections: %w", err)
	}
	records := ExtractListingArray(payload)
	index := BuildAuthorIndex(s.cachedAuthors(ctx), records, s.cfg.Fallbacks)
	return NormalizeHotCollections(payload, index, s.cfg.Fallbacks), nil
}

// IsNotFound reports whether err means the requested entity does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

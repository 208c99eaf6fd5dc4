package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftstorefront/internal/metrics"
	"nftstorefront/internal/upstream"
)

const base = "https://api.test/"

func testSessionConfig(now *time.Time) SessionConfig {
	return SessionConfig{
		ExploreCandidates: []Candidate{
			{Name: "explore", URL: base + "explore", Params: SortParam},
			{Name: "nfts", URL: base + "nfts", Params: SortParam},
		},
		NewItemsCandidates: []Candidate{{Name: "newItems", URL: base + "newItems"}},
		HotCollectionsURL:  base + "hotCollections",
		TopSellersURL:      base + "topSellers",
		ItemDetailsURL:     base + "itemDetails",
		AuthorsURL:         base + "authors",
		RefreshInterval:    time.Minute,
		InitialCount:       2,
		LoadMoreStep:       2,
		Clock:              func() time.Time { return *now },
	}
}

func exploreDoc(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"nftId":"n%d","title":"T%d","price":%d,"likes":%d,"authorId":"a1","authorName":"Ann","countdown":%d}`, i, i, n-i, i, 60*(i+1))
	}
	return `{"data":{"nfts":[` + strings.Join(parts, ",") + `]}}`
}

func TestSessionExploreFallsBackAndEnrichesAuthors(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).
		fail(base+"explore", errors.New("502")).
		serve(base+"nfts", exploreDoc(5)).
		serve(base+"authors", `[{"authorId":"a1","authorName":"Anne","authorImage":"anne.png"}]`)
	s := NewSession(f, testSessionConfig(&now), nil, metrics.NewRegistry())
	defer s.Close()

	v, err := s.Explore(context.Background(), SortPriceLowToHigh, 0)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, v.Status)
	assert.Equal(t, "nfts", v.Source)
	assert.Equal(t, 5, v.Total)
	assert.True(t, v.CanLoadMore)
	require.Len(t, v.Listings, 2)
	assert.Equal(t, "n4", v.Listings[0].ID)
	assert.Equal(t, "n3", v.Listings[1].ID)
	assert.Equal(t, "Anne", v.Listings[0].AuthorName)
	assert.Equal(t, "anne.png", v.Listings[0].AuthorAvatarURL)
	assert.Equal(t, "0h 5m 0s", v.Listings[0].Countdown)
}

func TestSessionExploreRevealsRequestedCount(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).serve(base+"explore", exploreDoc(5))
	s := NewSession(f, testSessionConfig(&now), nil, nil)

	v, err := s.Explore(context.Background(), SortNone, 3)
	require.NoError(t, err)
	assert.Len(t, v.Listings, 4)
	assert.True(t, v.CanLoadMore)

	v, err = s.Explore(context.Background(), SortNone, 100)
	require.NoError(t, err)
	assert.Len(t, v.Listings, 5)
	assert.False(t, v.CanLoadMore)
}

func TestSessionExploreServesFreshSnapshot(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).serve(base+"explore", exploreDoc(3))
	s := NewSession(f, testSessionConfig(&now), nil, nil)

	_, err := s.Explore(context.Background(), SortNone, 0)
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	v, err := s.Explore(context.Background(), SortLikesHighToLow, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, countCalls(f, base+"explore"))
	assert.Equal(t, "n2", v.Listings[0].ID)
	assert.Equal(t, "0h 2m 30s", v.Listings[0].Countdown)

	now = now.Add(time.Minute)
	_, err = s.Explore(context.Background(), SortNone, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, countCalls(f, base+"explore"))
}

func countCalls(f *fakeFetcher, u string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == u {
			n++
		}
	}
	return n
}

func TestSessionExploreUnavailable(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).serve(base+"explore", `{"data":{"nfts":[{"userId":7}]}}`)
	s := NewSession(f, testSessionConfig(&now), nil, nil)

	v, err := s.Explore(context.Background(), SortNone, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, v.Status)
	assert.Empty(t, v.Listings)
	assert.Contains(t, v.Message, "didn't return a valid list")
}

func TestSessionNewItemsReturnsEverything(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).serve(base+"newItems", `{"newItems":[{"title":"a"},{"title":"b"},{"title":"c"}]}`)
	s := NewSession(f, testSessionConfig(&now), nil, nil)

	v, err := s.NewItems(context.Background())
	require.NoError(t, err)
	assert.Len(t, v.Listings, 3)
	assert.False(t, v.CanLoadMore)
}

func TestSessionItem(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).
		serve(base+"itemDetails", `{"nftId":"n1","title":"Pixel","ownerId":"a1","countdown":120}`).
		serve(base+"authors", `[{"authorId":"a1","authorName":"Anne","authorImage":"anne.png"}]`)
	s := NewSession(f, testSessionConfig(&now), nil, nil)

	d, view, err := s.Item(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, "Pixel", view.Title)
	assert.Equal(t, "0h 2m 0s", view.Countdown)
	assert.Equal(t, "Anne", d.Owner.Name)
	assert.Equal(t, "anne.png", d.Owner.AvatarURL)
}

func TestSessionItemNotFound(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).serve(base+"itemDetails", `null`)
	s := NewSession(f, testSessionConfig(&now), nil, nil)

	_, _, err := s.Item(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestSessionAuthor(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).serve(base+"authors", `{"authorId":"a1","authorName":"Anne","nftCollection":[{"nftId":"n1","title":"One","countdown":"1m"}]}`)
	s := NewSession(f, testSessionConfig(&now), nil, nil)

	p, listings, err := s.Author(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Anne", p.Person.Name)
	require.Len(t, listings, 1)
	assert.Equal(t, "0h 1m 0s", listings[0].Countdown)
	assert.Equal(t, "a1", f.params[0].Get("author"))
}

func TestSessionShowcase(t *testing.T) {
	now := testNow
	f := newFakeFetcher(t).
		serve(base+"topSellers", `[{"authorId":"s1","authorName":"Sam","price":3}]`).
		serve(base+"hotCollections", `[{"nftId":"h1","title":"Hot","code":7}]`)
	s := NewSession(f, testSessionConfig(&now), nil, nil)

	sellers, err := s.TopSellers(context.Background())
	require.NoError(t, err)
	require.Len(t, sellers, 1)
	assert.Equal(t, "3 ETH", sellers[0].PriceText)

	cols, err := s.HotCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "ERC-7", cols[0].Code)

	f.fail(base+"topSellers", errors.New("down"))
	_, err = s.TopSellers(context.Background())
	assert.Error(t, err)
}

func TestSessionOverHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/explore":
			hits.Add(1)
			http.Error(w, "gone", http.StatusServiceUnavailable)
		case "/nfts":
			hits.Add(1)
			assert.Equal(t, "price_high_to_low", r.URL.Query().Get("filter"))
			_, _ = w.Write([]byte(`[{"id":1,"title":"cheap","price":1},{"id":2,"title":"dear","price":9}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := SessionConfig{
		ExploreCandidates: []Candidate{
			{Name: "explore", URL: srv.URL + "/explore", Params: SortParam},
			{Name: "nfts", URL: srv.URL + "/nfts", Params: SortParam},
		},
	}
	s := NewSession(upstream.NewClient(upstream.WithHTTPClient(srv.Client())), cfg, nil, nil)

	v, err := s.Explore(context.Background(), SortPriceHighToLow, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
	require.Len(t, v.Listings, 2)
	assert.Equal(t, "dear", v.Listings[0].Title)
	assert.Equal(t, "9 ETH", v.Listings[0].PriceText)
}

func TestSessionReadsFileFixture(t *testing.T) {
	now := time.UnixMilli(1893456000000 - 3*86400000)
	cfg := SessionConfig{
		ExploreCandidates: []Candidate{{Name: "fixture", URL: "file://testdata/explore.json"}},
		InitialCount:      8,
		Clock:             func() time.Time { return now },
	}
	s := NewSession(upstream.NewClient(), cfg, nil, nil)

	v, err := s.Explore(context.Background(), SortLikesHighToLow, 0)
	require.NoError(t, err)
	require.Len(t, v.Listings, 4)

	assert.Equal(t, []string{"10246", "10245", "x-17", "idx-3"},
		[]string{v.Listings[0].ID, v.Listings[1].ID, v.Listings[2].ID, v.Listings[3].ID})
	assert.Equal(t, "3d 0h 0m 0s", v.Listings[1].Countdown)
	assert.Equal(t, "5h 30m 0s", v.Listings[2].Countdown)
	assert.Equal(t, "Ivo", v.Listings[2].AuthorName)
	assert.Equal(t, "1.1 ETH", v.Listings[2].PriceText)
	assert.Equal(t, DefaultFallbacks.NFTImage, v.Listings[2].ImageURL)
	assert.Equal(t, "https://cdn.example/author/7302.jpg", v.Listings[0].AuthorAvatarURL)
	assert.Empty(t, v.Listings[3].Countdown)
}

func TestSessionExploreRecoversWhenSupersedingRequestIsCancelled(t *testing.T) {
	now := testNow
	f := newGatedFetcher(t,
		`[{"id":"a","title":"from first request"}]`,
		`[{"id":"b","title":"never delivered"}]`,
		`[{"id":"c","title":"from retry"}]`,
	)
	cfg := SessionConfig{
		ExploreCandidates: []Candidate{{Name: "explore", URL: base + "explore"}},
		Clock:             func() time.Time { return now },
	}
	s := NewSession(f, cfg, nil, nil)

	type result struct {
		view FeedView
		err  error
	}
	ctxA, cancelA := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelA()
	aDone := make(chan result, 1)
	go func() {
		v, err := s.Explore(ctxA, SortNone, 0)
		aDone <- result{v, err}
	}()
	require.Equal(t, 0, <-f.entered)

	ctxB, cancelB := context.WithCancel(context.Background())
	bDone := make(chan error, 1)
	go func() {
		_, err := s.Explore(ctxB, SortNone, 0)
		bDone <- err
	}()
	require.Equal(t, 1, <-f.entered)
	cancelB()
	assert.ErrorIs(t, <-bDone, context.Canceled)

	f.release(2)
	f.release(0)

	a := <-aDone
	require.NoError(t, a.err)
	assert.Equal(t, StatusSuccess, a.view.Status)
	require.Len(t, a.view.Listings, 1)
	assert.Equal(t, "c", a.view.Listings[0].ID)

	state := s.explore.Snapshot()
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, uint64(3), state.Cycle)
}

func TestSessionClosedRejectsFeeds(t *testing.T) {
	now := testNow
	s := NewSession(newFakeFetcher(t), testSessionConfig(&now), nil, nil)
	s.Close()

	_, err := s.Explore(context.Background(), SortNone, 0)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

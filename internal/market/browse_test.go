package market

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priced(id string, price *float64, likes int) Listing {
	return Listing{ID: id, Title: id, Price: price, LikeCount: likes}
}

func fp(v float64) *float64 { return &v }

func ids(ls []Listing) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}

func sampleListings() []Listing {
	return []Listing{
		priced("a", fp(2), 5),
		priced("b", nil, 9),
		priced("c", fp(1), 5),
		priced("d", fp(2), 1),
		priced("e", fp(0.5), 9),
	}
}

func TestBrowserSortOrders(t *testing.T) {
	cases := []struct {
		key  SortKey
		want []string
	}{
		{SortNone, []string{"a", "b", "c", "d", "e"}},
		{SortPriceLowToHigh, []string{"e", "c", "a", "d", "b"}},
		{SortPriceHighToLow, []string{"a", "d", "c", "e", "b"}},
		{SortLikesHighToLow, []string{"b", "e", "a", "c", "d"}},
	}
	for _, tc := range cases {
		t.Run(string(tc.key), func(t *testing.T) {
			b := NewBrowser(sampleListings(), 10, 4)
			b.SetSort(tc.key)
			assert.Equal(t, tc.want, ids(b.Visible()))
		})
	}
}

func TestBrowserSortKeepsSameSet(t *testing.T) {
	in := sampleListings()
	b := NewBrowser(in, 10, 4)
	for _, key := range []SortKey{SortPriceHighToLow, SortLikesHighToLow, SortPriceLowToHigh, SortNone} {
		b.SetSort(key)
		got := ids(b.Visible())
		sort.Strings(got)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(in))
}

func TestBrowserSortIsRecomputedFromCanonical(t *testing.T) {
	b := NewBrowser(sampleListings(), 10, 4)
	b.SetSort(SortLikesHighToLow)
	b.SetSort(SortNone)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(b.Visible()))
}

func TestBrowserLoadMore(t *testing.T) {
	var ls []Listing
	for i := 0; i < 13; i++ {
		ls = append(ls, priced(fmt.Sprintf("l%02d", i), fp(float64(i)), 0))
	}
	b := NewBrowser(ls, 8, 4)
	require.Len(t, b.Visible(), 8)
	require.True(t, b.CanLoadMore())

	b.LoadMore(0)
	assert.Len(t, b.Visible(), 12)
	b.LoadMore(0)
	assert.Len(t, b.Visible(), 13)
	assert.False(t, b.CanLoadMore())

	b.LoadMore(0)
	assert.Len(t, b.Visible(), 13)
	assert.Equal(t, 13, b.Total())
}

func TestBrowserReplaceResetsWindowKeepsSort(t *testing.T) {
	b := NewBrowser(sampleListings(), 2, 2)
	b.SetSort(SortPriceLowToHigh)
	b.LoadMore(0)
	require.Len(t, b.Visible(), 4)

	b.Replace([]Listing{priced("x", fp(3), 0), priced("y", fp(1), 0), priced("z", fp(2), 0)})
	assert.Equal(t, SortPriceLowToHigh, b.Sort())
	assert.Equal(t, []string{"y", "z"}, ids(b.Visible()))
}

func TestBrowserEmpty(t *testing.T) {
	b := NewBrowser(nil, 8, 4)
	assert.Empty(t, b.Visible())
	assert.False(t, b.CanLoadMore())
	b.LoadMore(0)
	assert.Empty(t, b.Visible())
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("likes_high_to_low")
	require.NoError(t, err)
	assert.Equal(t, SortLikesHighToLow, k)

	k, err = ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortNone, k)

	_, err = ParseSortKey("newest")
	assert.Error(t, err)
}

package market

import (
	"fmt"
	"sort"
)

// SortKey selects the presentation order of a listing set.
type SortKey string

const (
	SortNone           SortKey = ""
	SortPriceLowToHigh SortKey = "price_low_to_high"
	SortPriceHighToLow SortKey = "price_high_to_low"
	SortLikesHighToLow SortKey = "likes_high_to_low"
)

// ParseSortKey validates a sort key coming from a request.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case SortNone, SortPriceLowToHigh, SortPriceHighToLow, SortLikesHighToLow:
		return k, nil
	}
	return SortNone, fmt.Errorf("market: unknown sort key %q", s)
}

// Browser holds a canonical listing sequence and the presentation order and
// window over it. It never modifies the listings it is given.
type Browser struct {
	canonical []Listing
	ordered   []Listing
	sort      SortKey
	window    int
	initial   int
	step      int
}

// NewBrowser starts with the initial window over listings in aggregation order.
func NewBrowser(listings []Listing, initial, step int) *Browser {
	if initial <= 0 {
		initial = 8
	}
	if step <= 0 {
		step = 4
	}
	b := &Browser{initial: initial, step: step}
	b.Replace(listings)
	return b
}

// Replace swaps in a freshly aggregated sequence, keeping the sort key and
// resetting the window.
func (b *Browser) Replace(listings []Listing) {
	b.canonical = listings
	b.window = b.initial
	b.reorder()
}

// SetSort changes the order. The order is always recomputed from the
// canonical sequence.
func (b *Browser) SetSort(key SortKey) {
	b.sort = key
	b.reorder()
}

// Sort returns the active sort key.
func (b *Browser) Sort() SortKey { return b.sort }

// LoadMore grows the window by step, or by the configured step when step is
// not positive. Growing past the end is a no-op.
func (b *Browser) LoadMore(step int) {
	if step <= 0 {
		step = b.step
	}
	if b.window >= len(b.ordered) {
		return
	}
	b.window += step
	if b.window > len(b.ordered) {
		b.window = len(b.ordered)
	}
}

// Visible returns the first N listings of the ordered sequence.
func (b *Browser) Visible() []Listing {
	n := b.window
	if n > len(b.ordered) {
		n = len(b.ordered)
	}
	out := make([]Listing, n)
	copy(out, b.ordered[:n])
	return out
}

// CanLoadMore reports whether LoadMore would reveal more listings.
func (b *Browser) CanLoadMore() bool { return b.window < len(b.ordered) }

// Total is the size of the canonical sequence.
func (b *Browser) Total() int { return len(b.canonical) }

func (b *Browser) reorder() {
	ordered := make([]Listing, len(b.canonical))
	copy(ordered, b.canonical)

	var less func(a, c Listing) bool
	switch b.sort {
	case SortPriceLowToHigh:
		less = func(a, c Listing) bool { return priceLess(a, c, false) }
	case SortPriceHighToLow:
		less = func(a, c Listing) bool { return priceLess(a, c, true) }
	case SortLikesHighToLow:
		less = func(a, c Listing) bool { return a.LikeCount > c.LikeCount }
	}
	if less != nil {
		sort.SliceStable(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })
	}
	b.ordered = ordered
}

// priceLess orders listings by price; listings without a price go last in
// either direction.
func priceLess(a, c Listing, desc bool) bool {
	switch {
	case a.Price == nil:
		return false
	case c.Price == nil:
		return true
	case desc:
		return *a.Price > *c.Price
	default:
		return *a.Price < *c.Price
	}
}

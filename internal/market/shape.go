package market

import (
	"errors"

	"github.com/Jeffail/gabs/v2"
)

// ErrShapeMismatch reports a payload whose array does not hold listings.
var ErrShapeMismatch = errors.New("market: payload does not look like a listing array")

// Shape is the verdict of the shape detector on one payload.
type Shape int

const (
	// ShapeNone means no sequence was found at any probed location. It is
	// an empty result, not a mismatch.
	ShapeNone Shape = iota
	// ShapeForeign means a sequence was found but its elements are not listings.
	ShapeForeign
	// ShapeListings means a listing-like (possibly empty) sequence was found.
	ShapeListings
)

// listingContainers is the probe order for envelopes that are not bare arrays.
// newItems is specific to the new-items feed and is only tried last.
var listingContainers = []string{"items", "nfts", "nftCollection", "collection", "results", "data", "newItems"}

// authorCollectionContainers is the probe order inside an author profile.
var authorCollectionContainers = []string{"nftCollection", "nfts", "items", "collection"}

var listingMarkers = []string{"title", "name", "image", "imageUrl", "nftImage"}

// ExtractListingArray returns the listing records held by payload. Unrelated
// shapes and missing containers both yield an empty slice.
func ExtractListingArray(payload Record) []Record {
	records, _ := DetectListings(payload)
	return records
}

// DetectListings looks for a listing array at the payload root, then under
// its data envelope, then one envelope deeper.
func DetectListings(payload Record) ([]Record, Shape) {
	verdict := ShapeNone
	node := payload
	for depth := 0; depth < 3 && node != nil && node.Data() != nil; depth++ {
		arr, found := toArray(node, listingContainers)
		if found {
			if looksLikeList(arr) {
				return arr, ShapeListings
			}
			verdict = ShapeForeign
		}
		node = unwrapData(node)
	}
	return []Record{}, verdict
}

func unwrapData(node Record) Record {
	if _, ok := node.Data().(map[string]interface{}); !ok {
		return nil
	}
	return node.Search("data")
}

// toArray accepts node itself when it is a sequence, otherwise the first of
// containers that holds one.
func toArray(node Record, containers []string) ([]Record, bool) {
	if _, ok := node.Data().([]interface{}); ok {
		return node.Children(), true
	}
	if _, ok := node.Data().(map[string]interface{}); !ok {
		return nil, false
	}
	for _, key := range containers {
		child := node.Search(key)
		if _, ok := child.Data().([]interface{}); ok {
			return child.Children(), true
		}
	}
	return nil, false
}

func looksLikeList(arr []Record) bool {
	return len(arr) == 0 || looksLikeListing(arr[0])
}

func looksLikeListing(r Record) bool {
	if r == nil {
		return false
	}
	obj, ok := r.Data().(map[string]interface{})
	if !ok {
		return false
	}
	for _, key := range listingMarkers {
		if truthy(obj[key]) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	}
	return true
}

// wrap turns a Go value into a Record.
func wrap(v any) Record { return gabs.Wrap(v) }

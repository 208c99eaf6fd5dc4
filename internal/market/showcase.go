package market

// Seller is one entry of the top-sellers board.
type Seller struct {
	Person    Person `json:"person"`
	PriceText string `json:"price_text"`
}

// Collection is one hot collection card.
type Collection struct {
	Listing Listing `json:"listing"`
	Code    string  `json:"code,omitempty"`
}

// NormalizeTopSellers reads a top-sellers payload. Anything that is not an
// array (directly or under data) yields an empty board.
func NormalizeTopSellers(payload Record, fb Fallbacks) []Seller {
	root := rootOf(payload)
	if root == nil {
		return []Seller{}
	}
	if _, ok := root.Data().([]interface{}); !ok {
		return []Seller{}
	}

	children := root.Children()
	sellers := make([]Seller, 0, len(children))
	for _, r := range children {
		if _, ok := r.Data().(map[string]interface{}); !ok {
			continue
		}
		s := Seller{Person: NormalizePerson(r, fb), PriceText: PricePlaceholder}
		if p, ok := ResolveNumber(r, FieldPrice); ok {
			s.PriceText = FormatPrice(p)
		}
		sellers = append(sellers, s)
	}
	return sellers
}

// NormalizeHotCollections reads a hot-collections payload with the same
// envelope tolerance as the listing feeds.
func NormalizeHotCollections(payload Record, authors *AuthorIndex, fb Fallbacks) []Collection {
	records := ExtractListingArray(payload)
	out := make([]Collection, len(records))
	for i, r := range records {
		c := Collection{Listing: authors.Apply(NormalizeListing(r, i, fb))}
		if code, ok := toText(lookup(r, "code")); ok {
			c.Code = "ERC-" + code
		}
		out[i] = c
	}
	return out
}

package market

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldKind names a canonical value that can be pulled out of a Record.
type FieldKind int

const (
	FieldID FieldKind = iota
	FieldTitle
	FieldImage
	FieldPrice
	FieldLikes
	FieldAuthorRef
	FieldAuthorName
	FieldAuthorAvatar
	FieldWallet
	FieldPersonID
	FieldPersonName
	FieldPersonAvatar
)

func (k FieldKind) String() string {
	switch k {
	case FieldID:
		return "id"
	case FieldTitle:
		return "title"
	case FieldImage:
		return "image"
	case FieldPrice:
		return "price"
	case FieldLikes:
		return "likes"
	case FieldAuthorRef:
		return "authorRef"
	case FieldAuthorName:
		return "authorName"
	case FieldAuthorAvatar:
		return "authorAvatar"
	case FieldWallet:
		return "wallet"
	case FieldPersonID:
		return "personId"
	case FieldPersonName:
		return "personName"
	case FieldPersonAvatar:
		return "personAvatar"
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// personHolders are the sub-objects a listing may nest its author under.
var personHolders = []string{"author", "creator", "owner", "seller"}

var avatarKeys = []string{"authorImage", "profileImg", "profileImage", "avatar", "image"}

// fieldPaths holds the resolution order per kind. The first path whose value
// is present wins.
//
// authorRef deliberately stops at authorId-style keys: upstreams reuse
// id/nftId for the item itself, and some listing payloads are known to put
// NFT identifiers in authorId too. Keep the order as is until the upstream
// contract is confirmed.
var fieldPaths = map[FieldKind][][]string{
	FieldID:    flat("nftId", "id", "_id", "tokenId"),
	FieldTitle: flat("title", "name"),
	FieldImage: flat("nftImage", "image", "imageUrl", "img"),
	FieldPrice: flat("price", "nftPrice"),
	FieldLikes: flat("likes", "favoriteCount", "favorites"),
	FieldAuthorRef: append(flat("authorId"),
		nested(personHolders, "authorId")...),
	FieldAuthorName: append(flat("authorName", "creatorName"),
		nested(personHolders, "authorName", "name")...),
	FieldAuthorAvatar: append(flat("authorImage", "authorAvatar"),
		nested(personHolders, avatarKeys...)...),
	FieldWallet: flat("address", "wallet", "walletAddress"),

	FieldPersonID:   flat("authorId", "id", "_id", "ownerId", "sellerId", "creatorId", "userId"),
	FieldPersonName: flat("authorName", "name", "username", "tag", "handle", "ownerName", "creatorName"),
	FieldPersonAvatar: flat("authorImage", "authorAvatar", "profileImg", "profileImage", "profile_image",
		"avatar", "image", "img", "ownerImage", "creatorImage"),
}

func flat(keys ...string) [][]string {
	out := make([][]string, len(keys))
	for i, k := range keys {
		out[i] = []string{k}
	}
	return out
}

func nested(holders []string, keys ...string) [][]string {
	out := make([][]string, 0, len(holders)*len(keys))
	for _, h := range holders {
		for _, k := range keys {
			out = append(out, []string{h, k})
		}
	}
	return out
}

func isNumericKind(k FieldKind) bool { return k == FieldPrice || k == FieldLikes }

// ResolveField walks the candidate paths for kind and returns the first
// present value. Numeric kinds return a float64 and skip candidates that do
// not coerce to a finite number; all other kinds return a trimmed string.
// It never panics on unexpected shapes.
func ResolveField(r Record, kind FieldKind) (any, bool) {
	for _, path := range fieldPaths[kind] {
		v := lookup(r, path...)
		if !present(v) {
			continue
		}
		if isNumericKind(kind) {
			if n, ok := toNumber(v); ok {
				return n, true
			}
			continue
		}
		if s, ok := toText(v); ok {
			return s, true
		}
	}
	return nil, false
}

// ResolveString is ResolveField for string-valued kinds.
func ResolveString(r Record, kind FieldKind) (string, bool) {
	v, ok := ResolveField(r, kind)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ResolveNumber is ResolveField for numeric kinds.
func ResolveNumber(r Record, kind FieldKind) (float64, bool) {
	v, ok := ResolveField(r, kind)
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

func lookup(r Record, path ...string) any {
	if r == nil {
		return nil
	}
	if _, isObj := r.Data().(map[string]interface{}); !isObj {
		return nil
	}
	return r.Search(path...).Data()
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	}
	return true
}

func toText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func toNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// NormalizeListing builds the canonical listing for the record at position
// index of its fetch. It is a pure function of its inputs; the countdown end
// is left unset because it depends on the clock.
func NormalizeListing(r Record, index int, fb Fallbacks) Listing {
	fb = fb.orDefault()

	l := Listing{
		Title:           "Untitled",
		ImageURL:        fb.NFTImage,
		PriceText:       PricePlaceholder,
		AuthorName:      "Unknown",
		AuthorAvatarURL: fb.AuthorImage,
	}

	if id, ok := ResolveString(r, FieldID); ok {
		l.ID = id
	} else {
		l.ID = fmt.Sprintf("idx-%d", index)
		l.SyntheticID = true
	}
	if v, ok := ResolveString(r, FieldTitle); ok {
		l.Title = v
	}
	if v, ok := ResolveString(r, FieldImage); ok {
		l.ImageURL = v
	}
	if p, ok := ResolveNumber(r, FieldPrice); ok {
		l.Price = &p
		l.PriceText = FormatPrice(p)
	}
	if n, ok := ResolveNumber(r, FieldLikes); ok {
		l.LikeCount = countOf(n)
	}
	if v, ok := ResolveString(r, FieldAuthorRef); ok {
		l.AuthorID = strPtr(v)
	}
	if v, ok := ResolveString(r, FieldAuthorName); ok {
		l.AuthorName = v
	}
	if v, ok := ResolveString(r, FieldAuthorAvatar); ok {
		l.AuthorAvatarURL = v
	}
	return l
}

// countOf floors n into a non-negative int, saturating at math.MaxInt.
func countOf(n float64) int {
	if n <= 0 {
		return 0
	}
	if n >= math.MaxInt {
		return math.MaxInt
	}
	return int(math.Floor(n))
}

// FormatPrice renders an ETH amount.
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64) + " ETH"
}

// NormalizePerson builds a person from a person-shaped record. Scalar
// records (a bare id) are accepted as {authorId: value}.
func NormalizePerson(r Record, fb Fallbacks) Person {
	fb = fb.orDefault()
	r = personRecord(r)

	p := Person{Name: "Unknown", AvatarURL: fb.AuthorImage}
	if v, ok := ResolveString(r, FieldPersonID); ok {
		p.ID = strPtr(v)
	}
	if v, ok := ResolveString(r, FieldPersonName); ok {
		p.Name = v
	}
	if v, ok := ResolveString(r, FieldPersonAvatar); ok {
		p.AvatarURL = v
	}
	if v, ok := ResolveString(r, FieldWallet); ok {
		p.WalletAddress = strPtr(v)
	}
	return p
}

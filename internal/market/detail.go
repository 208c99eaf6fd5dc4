package market

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when an item or author lookup yields nothing usable.
var ErrNotFound = errors.New("market: not found")

var (
	ownerKeys   = []string{"owner", "currentOwner", "seller", "ownerData", "ownerDetails"}
	creatorKeys = []string{"creator", "author", "creatorData", "creatorDetails"}
	historyKeys = []string{"owners", "ownerHistory", "history", "ownerList", "ownersList"}
)

// ItemDetail is the canonical form of one item-details payload.
type ItemDetail struct {
	Listing Listing  `json:"listing"`
	Owner   Person   `json:"owner"`
	Creator Person   `json:"creator"`
	Owners  []Person `json:"owners"`
}

// AuthorProfile is the canonical form of one author payload.
type AuthorProfile struct {
	Person    Person    `json:"person"`
	Tag       string    `json:"tag,omitempty"`
	Followers int       `json:"followers"`
	Listings  []Listing `json:"listings"`

	records []Record
}

// Records returns the raw records behind Listings.
func (p AuthorProfile) Records() []Record { return p.records }

// rootOf unwraps a {data: ...} envelope.
func rootOf(payload Record) Record {
	if payload == nil {
		return nil
	}
	if obj, ok := payload.Data().(map[string]interface{}); ok {
		if inner, ok := obj["data"]; ok && inner != nil {
			return wrap(inner)
		}
	}
	return payload
}

// personRecord accepts an object as is and turns a bare id into {authorId: id}.
func personRecord(r Record) Record {
	if r == nil {
		return nil
	}
	switch t := r.Data().(type) {
	case map[string]interface{}:
		return r
	case nil, []interface{}, bool:
		return nil
	default:
		if !present(t) {
			return nil
		}
		return wrap(map[string]interface{}{"authorId": t})
	}
}

// pickPerson returns the first present person-like value under keys, or a
// person synthesized from flat <prefix>Id/<prefix>Name/<prefix>Image fields.
func pickPerson(r Record, keys []string, prefix string) Record {
	for _, k := range keys {
		if v := lookup(r, k); present(v) {
			if p := personRecord(wrap(v)); p != nil {
				return p
			}
		}
	}
	id, name, image := lookup(r, prefix+"Id"), lookup(r, prefix+"Name"), lookup(r, prefix+"Image")
	if id == nil && !present(name) && !present(image) {
		return nil
	}
	return wrap(map[string]interface{}{"authorId": id, "name": name, "avatar": image})
}

func normalizeOwners(r Record, fb Fallbacks) []Person {
	var raw []Record
	for _, k := range historyKeys {
		if arr, ok := lookup(r, k).([]interface{}); ok {
			raw = wrap(arr).Children()
			break
		}
	}

	seen := make(map[string]struct{}, len(raw))
	owners := make([]Person, 0, len(raw))
	for _, o := range raw {
		pr := personRecord(o)
		if pr == nil {
			continue
		}
		p := NormalizePerson(pr, fb)
		id := "null"
		if p.ID != nil {
			id = *p.ID
		}
		key := strings.Join([]string{id, p.Name, p.AvatarURL}, "|")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		owners = append(owners, p)
	}
	return owners
}

// NormalizeItemDetail builds the detail view of one item. requestedID is
// used when the payload carries no id of its own.
func NormalizeItemDetail(payload Record, requestedID string, authors *AuthorIndex, fb Fallbacks) (ItemDetail, error) {
	fb = fb.orDefault()
	item := rootOf(payload)
	if item == nil {
		return ItemDetail{}, ErrNotFound
	}
	if _, ok := item.Data().(map[string]interface{}); !ok {
		return ItemDetail{}, ErrNotFound
	}

	listing := NormalizeListing(item, 0, fb)
	if listing.SyntheticID && requestedID != "" {
		listing.ID = requestedID
		listing.SyntheticID = false
	}
	listing = authors.Apply(listing)

	owners := normalizeOwners(item, fb)
	var first *Person
	if len(owners) > 0 {
		first = &owners[0]
	}

	ownerRec := pickPerson(item, ownerKeys, "owner")
	creatorRec := pickPerson(item, creatorKeys, "creator")

	owner := Person{Name: "Unknown"}
	if id, ok := ResolveString(ownerRec, FieldPersonID); ok {
		owner.ID = strPtr(id)
	} else if first != nil {
		owner.ID = first.ID
	}
	if name, ok := ResolveString(ownerRec, FieldPersonName); ok {
		owner.Name = name
	} else if first != nil {
		owner.Name = first.Name
	}
	owner.AvatarURL = resolveAvatar(owner.ID, authors, ownerRec, first, fb)
	owner.Name = indexedName(owner, authors)

	creator := Person{Name: "Unknown"}
	if id, ok := ResolveString(creatorRec, FieldPersonID); ok {
		creator.ID = strPtr(id)
	}
	if name, ok := ResolveString(creatorRec, FieldPersonName); ok {
		creator.Name = name
	}
	creator.AvatarURL = resolveAvatar(creator.ID, authors, creatorRec, nil, fb)
	creator.Name = indexedName(creator, authors)

	for i, o := range owners {
		if o.ID == nil {
			continue
		}
		if p, ok := authors.Lookup(*o.ID); ok {
			owners[i].AvatarURL = p.AvatarURL
		}
	}

	return ItemDetail{Listing: listing, Owner: owner, Creator: creator, Owners: owners}, nil
}

// resolveAvatar tries the author index, then the inline record, then the
// first owners-history entry, then the fallback.
func resolveAvatar(id *string, authors *AuthorIndex, inline Record, first *Person, fb Fallbacks) string {
	if id != nil {
		if p, ok := authors.Lookup(*id); ok {
			return p.AvatarURL
		}
	}
	if v, ok := ResolveString(inline, FieldPersonAvatar); ok {
		return v
	}
	if first != nil {
		return first.AvatarURL
	}
	return fb.AuthorImage
}

// indexedName fills a name nothing inline supplied from the author index.
func indexedName(p Person, authors *AuthorIndex) string {
	if p.Name != "Unknown" || p.ID == nil {
		return p.Name
	}
	if known, ok := authors.Lookup(*p.ID); ok {
		return known.Name
	}
	return p.Name
}

// NormalizeAuthorProfile builds an author page from an authors payload whose
// root is either the author object or an array holding it first.
func NormalizeAuthorProfile(payload Record, requestedID string, fb Fallbacks) (AuthorProfile, error) {
	fb = fb.orDefault()
	root := rootOf(payload)
	if root == nil {
		return AuthorProfile{}, ErrNotFound
	}
	switch t := root.Data().(type) {
	case []interface{}:
		if len(t) == 0 {
			return AuthorProfile{}, ErrNotFound
		}
		root = wrap(t[0])
	case map[string]interface{}:
	default:
		return AuthorProfile{}, ErrNotFound
	}
	if _, ok := root.Data().(map[string]interface{}); !ok {
		return AuthorProfile{}, ErrNotFound
	}

	person := NormalizePerson(root, fb)
	if person.ID == nil && requestedID != "" {
		person.ID = strPtr(requestedID)
	}

	profile := AuthorProfile{Person: person}
	if tag, ok := toText(lookup(root, "tag")); ok {
		profile.Tag = "@" + tag
	} else if user, ok := toText(lookup(root, "username")); ok {
		profile.Tag = "@" + user
	}
	if n, ok := toNumber(lookup(root, "followers")); ok {
		profile.Followers = countOf(n)
	}

	records, _ := toArray(root, authorCollectionContainers)
	profile.records = records
	profile.Listings = make([]Listing, len(records))
	for i, r := range records {
		l := NormalizeListing(r, i, fb)
		l.AuthorID = person.ID
		l.AuthorName = person.Name
		l.AuthorAvatarURL = person.AvatarURL
		profile.Listings[i] = l
	}
	return profile, nil
}

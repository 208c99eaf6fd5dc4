package market

// partialPerson keeps only the fields a source actually supplied, so that
// merging can tell "absent" from "defaulted".
type partialPerson struct {
	name   string
	avatar string
	wallet string
}

func (p *partialPerson) fill(other partialPerson) {
	if p.name == "" {
		p.name = other.name
	}
	if p.avatar == "" {
		p.avatar = other.avatar
	}
	if p.wallet == "" {
		p.wallet = other.wallet
	}
}

// AuthorIndex maps author ids to people. It is immutable once built; a new
// authors fetch produces a new index.
type AuthorIndex struct {
	people map[string]Person
}

// BuildAuthorIndex merges full author records with inline author fragments
// found on listings. For a given id, each field comes from the full record
// when it has one, then from the first inline fragment that has one, then
// from the defaults.
func BuildAuthorIndex(authorRecords, listingRecords []Record, fb Fallbacks) *AuthorIndex {
	fb = fb.orDefault()

	full := make(map[string]partialPerson)
	inline := make(map[string]partialPerson)
	var order []string

	seen := func(id string) {
		if _, ok := full[id]; ok {
			return
		}
		if _, ok := inline[id]; ok {
			return
		}
		order = append(order, id)
	}

	for _, r := range authorRecords {
		id, ok := ResolveString(r, FieldPersonID)
		if !ok {
			continue
		}
		seen(id)
		p := full[id]
		p.fill(partialPerson{
			name:   resolveOrEmpty(r, FieldPersonName),
			avatar: resolveOrEmpty(r, FieldPersonAvatar),
			wallet: resolveOrEmpty(r, FieldWallet),
		})
		full[id] = p
	}

	for _, r := range listingRecords {
		id, ok := ResolveString(r, FieldAuthorRef)
		if !ok {
			continue
		}
		seen(id)
		p := inline[id]
		p.fill(partialPerson{
			name:   resolveOrEmpty(r, FieldAuthorName),
			avatar: resolveOrEmpty(r, FieldAuthorAvatar),
		})
		inline[id] = p
	}

	people := make(map[string]Person, len(order))
	for _, id := range order {
		merged := full[id]
		merged.fill(inline[id])

		p := Person{ID: strPtr(id), Name: merged.name, AvatarURL: merged.avatar}
		if p.Name == "" {
			p.Name = "Unknown"
		}
		if p.AvatarURL == "" {
			p.AvatarURL = fb.AuthorImage
		}
		if merged.wallet != "" {
			p.WalletAddress = strPtr(merged.wallet)
		}
		people[id] = p
	}
	return &AuthorIndex{people: people}
}

func resolveOrEmpty(r Record, kind FieldKind) string {
	s, _ := ResolveString(r, kind)
	return s
}

// Lookup returns the person indexed under id.
func (ix *AuthorIndex) Lookup(id string) (Person, bool) {
	if ix == nil {
		return Person{}, false
	}
	p, ok := ix.people[id]
	return p, ok
}

// Len is the number of indexed people.
func (ix *AuthorIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.people)
}

// Apply returns l with author name and avatar taken from the index when the
// listing links to a known author.
func (ix *AuthorIndex) Apply(l Listing) Listing {
	if l.AuthorID == nil {
		return l
	}
	p, ok := ix.Lookup(*l.AuthorID)
	if !ok {
		return l
	}
	l.AuthorName = p.Name
	l.AuthorAvatarURL = p.AvatarURL
	return l
}

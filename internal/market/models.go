package market

import "github.com/Jeffail/gabs/v2"

// Record is one untyped upstream JSON value. Nothing is assumed about its shape.
type Record = *gabs.Container

// Status is the externally visible state of an aggregation.
type Status string

const (
	StatusLoading     Status = "loading"
	StatusSuccess     Status = "success"
	StatusUnavailable Status = "unavailable"
)

// PricePlaceholder is rendered when no numeric price resolves.
const PricePlaceholder = "—"

// Listing is the canonical, read-only form of one marketplace item.
type Listing struct {
	ID              string   `json:"id"`
	SyntheticID     bool     `json:"synthetic_id,omitempty"`
	Title           string   `json:"title"`
	ImageURL        string   `json:"image_url"`
	Price           *float64 `json:"price,omitempty"`
	PriceText       string   `json:"price_text"`
	LikeCount       int      `json:"like_count"`
	AuthorID        *string  `json:"author_id"`
	AuthorName      string   `json:"author_name"`
	AuthorAvatarURL string   `json:"author_avatar_url"`
	CountdownEndMs  *int64   `json:"countdown_end_ms"`
}

// Person is an author, owner, creator or seller.
type Person struct {
	ID            *string `json:"id"`
	Name          string  `json:"name"`
	AvatarURL     string  `json:"avatar_url"`
	WalletAddress *string `json:"wallet_address,omitempty"`
}

// Fallbacks are image references supplied by the rendering layer.
type Fallbacks struct {
	NFTImage    string
	AuthorImage string
}

// DefaultFallbacks mirrors the storefront's bundled placeholder images.
var DefaultFallbacks = Fallbacks{
	NFTImage:    "/images/nftImage.jpg",
	AuthorImage: "/images/author_thumbnail.jpg",
}

func (f Fallbacks) orDefault() Fallbacks {
	if f.NFTImage == "" {
		f.NFTImage = DefaultFallbacks.NFTImage
	}
	if f.AuthorImage == "" {
		f.AuthorImage = DefaultFallbacks.AuthorImage
	}
	return f
}

func strPtr(s string) *string { return &s }

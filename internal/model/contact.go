package model

// Address is a raw string plus an optional structured breakdown. If the
// structured form is present, its concatenation must be a
// substring-equivalent of Raw after case/whitespace normalization.
type Address struct {
	Raw        string `json:"raw"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Structured reports whether any of the broken-out components are set.
func (a Address) Structured() bool {
	return a.Street != "" || a.City != "" || a.Region != "" || a.PostalCode != "" || a.Country != ""
}

// Phone is a raw string plus its canonical E.164 form, when derivable.
type Phone struct {
	Raw       string `json:"raw"`
	Canonical string `json:"canonical,omitempty"`
	Extension string `json:"extension,omitempty"`
}

// SocialPlatform is one of the fixed platform keys SocialLinks recognizes.
type SocialPlatform string

const (
	PlatformFacebook    SocialPlatform = "facebook"
	PlatformInstagram   SocialPlatform = "instagram"
	PlatformX           SocialPlatform = "x"
	PlatformTikTok      SocialPlatform = "tiktok"
	PlatformYouTube     SocialPlatform = "youtube"
	PlatformLinkedIn    SocialPlatform = "linkedin"
	PlatformYelp        SocialPlatform = "yelp"
	PlatformTripAdvisor SocialPlatform = "tripadvisor"
)

// KnownSocialPlatforms lists every fixed vocabulary key, used by
// extractors that classify anchors by hostname.
var KnownSocialPlatforms = []SocialPlatform{
	PlatformFacebook, PlatformInstagram, PlatformX, PlatformTikTok,
	PlatformYouTube, PlatformLinkedIn, PlatformYelp, PlatformTripAdvisor,
}

// SocialLinks maps platform to URL. Platforms outside the fixed
// vocabulary land in Other, keyed by hostname.
type SocialLinks struct {
	ByPlatform map[SocialPlatform]string `json:"by_platform,omitempty"`
	Other      map[string]string         `json:"other,omitempty"`
}

// Set records a URL for a known platform, first-wins per platform.
func (s *SocialLinks) Set(platform SocialPlatform, url string) {
	if s.ByPlatform == nil {
		s.ByPlatform = make(map[SocialPlatform]string)
	}
	if _, exists := s.ByPlatform[platform]; !exists {
		s.ByPlatform[platform] = url
	}
}

// SetOther records a URL for a platform outside the fixed vocabulary,
// keyed by hostname, first-wins.
func (s *SocialLinks) SetOther(host, url string) {
	if s.Other == nil {
		s.Other = make(map[string]string)
	}
	if _, exists := s.Other[host]; !exists {
		s.Other[host] = url
	}
}

// CompetitorSummary is a directory-sourced nearby competitor. Enrichment
// beyond these directory fields is out of scope for the core.
type CompetitorSummary struct {
	Name        string   `json:"name"`
	URL         string   `json:"url,omitempty"`
	AddressRaw  string   `json:"address_raw,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
	DistanceKM  *float64 `json:"distance_km,omitempty"`
}

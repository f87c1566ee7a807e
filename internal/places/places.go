// Package places implements C2: a thin, rate-politeness-enforcing wrapper
// over the places/maps directory client (pkg/google) exposing the
// lookup/details/nearby capability contract spec.md §4.2 describes.
package places

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/model"
	"github.com/sells-group/restaurant-intel/internal/resilience"
	"github.com/sells-group/restaurant-intel/internal/xerrors"
	"github.com/sells-group/restaurant-intel/pkg/google"
)

// paginationReuseWait is the minimum wait before a pagination token may
// be reused, per spec.md §4.2.
const paginationReuseWait = 2 * time.Second

// Client implements capability.Places over pkg/google.Client.
type Client struct {
	google    google.Client
	breaker   *resilience.CircuitBreaker
	retryCfg  resilience.RetryConfig
	costCalc  *cost.Calculator

	mu             sync.Mutex
	lastPageTokenAt time.Time
}

// New builds a places.Client.
func New(g google.Client, breaker *resilience.CircuitBreaker, retryCfg resilience.RetryConfig, costCalc *cost.Calculator) *Client {
	return &Client{google: g, breaker: breaker, retryCfg: retryCfg, costCalc: costCalc}
}

var _ capability.Places = (*Client)(nil)

// Lookup resolves free-text query to a PlaceID via a text search.
// Returns (nil, nil) if no place matched — absence is not an error.
func (c *Client) Lookup(ctx context.Context, queryText string) (*capability.PlaceID, error) {
	resp, err := call(ctx, c, func(ctx context.Context) (*google.DiscoverySearchResponse, error) {
		return c.google.DiscoverySearch(ctx, google.DiscoverySearchRequest{TextQuery: queryText})
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Places) == 0 {
		return nil, nil
	}
	p := resp.Places[0]
	id := &capability.PlaceID{Value: p.ID}
	if p.Location != nil {
		id.Lat, id.Lng = p.Location.Latitude, p.Location.Longitude
	}
	return id, nil
}

// Details fetches the full field set for a resolved place.
func (c *Client) Details(ctx context.Context, id capability.PlaceID) (*capability.PlaceDetails, error) {
	resp, err := call(ctx, c, func(ctx context.Context) (*google.PlaceDetails, error) {
		return c.google.GetDetails(ctx, id.Value)
	})
	if err != nil {
		return nil, err
	}

	out := &capability.PlaceDetails{
		Name:        resp.DisplayName.Text,
		Address:     resp.FormattedAddress,
		Website:     resp.WebsiteURI,
		PriceLevel:  resp.PriceLevel,
		Cuisine:     resp.PrimaryType,
	}
	if resp.NationalPhoneNumber != "" {
		out.Phone = resp.NationalPhoneNumber
	} else {
		out.Phone = resp.InternationalPhoneNumber
	}
	if resp.UserRatingCount > 0 {
		rating := resp.Rating
		out.Rating = &rating
		count := resp.UserRatingCount
		out.ReviewCount = &count
	}
	if resp.RegularOpeningHours != nil {
		out.Hours = joinLines(resp.RegularOpeningHours.WeekdayDescriptions)
	}
	if resp.Location != nil {
		lat, lng := resp.Location.Latitude, resp.Location.Longitude
		out.Lat, out.Lng = &lat, &lng
	}
	return out, nil
}

// Nearby returns competitor restaurants near id, bounded by radiusM and
// filtered by keyword (primary type), enriched with a computed distance.
func (c *Client) Nearby(ctx context.Context, id capability.PlaceID, radiusM int, keyword string) ([]model.CompetitorSummary, error) {
	if id.Lat == 0 && id.Lng == 0 {
		return nil, eris.New("places: nearby requires a resolved PlaceID with coordinates")
	}

	resp, err := call(ctx, c, func(ctx context.Context) (*google.NearbySearchResponse, error) {
		return c.google.SearchNearby(ctx, google.NearbySearchRequest{
			LocationRestriction: google.Circle{
				Center: google.LatLng{Latitude: id.Lat, Longitude: id.Lng},
				Radius: float64(radiusM),
			},
			IncludedTypes:  includedTypesFor(keyword),
			MaxResultCount: 20,
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.CompetitorSummary, 0, len(resp.Places))
	for _, p := range resp.Places {
		summary := model.CompetitorSummary{
			Name:       p.DisplayName.Text,
			URL:        p.WebsiteURI,
			AddressRaw: p.FormattedAddress,
		}
		if p.Location != nil {
			d := haversineKM(id.Lat, id.Lng, p.Location.Latitude, p.Location.Longitude)
			summary.DistanceKM = &d
		}
		out = append(out, summary)
	}
	return out, nil
}

// WaitPaginationToken enforces the ≥2s wait spec.md §4.2 requires before
// a pagination token is reused: each call waits until 2s have passed since
// the previous call returned. The first call returns at once.
func (c *Client) WaitPaginationToken(ctx context.Context) error {
	defer func() {
		c.mu.Lock()
		c.lastPageTokenAt = time.Now()
		c.mu.Unlock()
	}()
	c.mu.Lock()
	last := c.lastPageTokenAt
	c.mu.Unlock()

	if last.IsZero() {
		return nil
	}
	elapsed := time.Since(last)
	if elapsed >= paginationReuseWait {
		return nil
	}
	timer := time.NewTimer(paginationReuseWait - elapsed)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// call wraps a google.Client method with the places circuit breaker,
// retry policy, and QuotaError classification (spec.md §4.2: on quota
// exhaustion, return QuotaError so the orchestrator treats the phase as
// partial, not fatal).
func call[T any](ctx context.Context, c *Client, fn func(context.Context) (T, error)) (T, error) {
	retryCfg := c.retryCfg
	retryCfg.ShouldRetry = func(err error) bool {
		return resilience.IsTransient(err) && !isQuotaErr(err)
	}

	result, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (T, error) {
		return resilience.DoVal(ctx, retryCfg, fn)
	})
	if err != nil {
		if isQuotaErr(err) {
			zap.L().Warn("places: quota exhausted", zap.Error(err))
			return result, xerrors.NewQuotaError("places", err)
		}
		return result, eris.Wrap(err, "places: call failed")
	}
	return result, nil
}

// isQuotaErr recognizes the directory API's quota-exhaustion signal.
// The provider surfaces this as an HTTP 429 or a RESOURCE_EXHAUSTED
// status string rather than a typed error, so we match on message text.
func isQuotaErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "429")
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func includedTypesFor(keyword string) []string {
	if keyword == "" {
		return []string{"restaurant"}
	}
	return []string{keyword}
}

// haversineKM returns the great-circle distance in kilometers between two
// lat/lng points (spec.md §9 Open Questions: no geodesy library appears
// in the pack, so this is eight lines of math rather than a dependency).
func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKM = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKM * c
}

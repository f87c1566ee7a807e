package places

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/resilience"
	"github.com/sells-group/restaurant-intel/internal/xerrors"
	"github.com/sells-group/restaurant-intel/pkg/google"
	"github.com/sells-group/restaurant-intel/pkg/google/mocks"
)

func newTestClient(m *mocks.MockClient) *Client {
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	retryCfg := resilience.RetryConfig{MaxAttempts: 1}
	return New(m, breaker, retryCfg, cost.NewCalculator(cost.DefaultRates()))
}

func TestLookupReturnsPlaceID(t *testing.T) {
	m := new(mocks.MockClient)
	m.On("DiscoverySearch", mock.Anything, mock.Anything).Return(&google.DiscoverySearchResponse{
		Places: []google.DiscoveryPlace{{
			ID:          "place-1",
			DisplayName: google.DisplayName{Text: "Example Bistro"},
			Location:    &google.LatLng{Latitude: 37.77, Longitude: -122.41},
		}},
	}, nil)

	c := newTestClient(m)
	id, err := c.Lookup(context.Background(), "Example Bistro San Francisco")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "place-1", id.Value)
	assert.InDelta(t, 37.77, id.Lat, 0.001)
}

func TestLookupNoMatchReturnsNilNotError(t *testing.T) {
	m := new(mocks.MockClient)
	m.On("DiscoverySearch", mock.Anything, mock.Anything).Return(&google.DiscoverySearchResponse{}, nil)

	c := newTestClient(m)
	id, err := c.Lookup(context.Background(), "nonexistent place")
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestDetailsMapsFields(t *testing.T) {
	m := new(mocks.MockClient)
	m.On("GetDetails", mock.Anything, "place-1").Return(&google.PlaceDetails{
		DisplayName:         google.DisplayName{Text: "Example Bistro"},
		FormattedAddress:    "123 Main St, San Francisco, CA 94110",
		NationalPhoneNumber: "(415) 555-0101",
		WebsiteURI:          "https://example-bistro.test",
		Rating:              4.5,
		UserRatingCount:     312,
		RegularOpeningHours: &google.OpeningHours{WeekdayDescriptions: []string{"Monday: 11am-9pm", "Tuesday: 11am-9pm"}},
		Location:            &google.LatLng{Latitude: 37.77, Longitude: -122.41},
	}, nil)

	c := newTestClient(m)
	details, err := c.Details(context.Background(), capability.PlaceID{Value: "place-1"})
	require.NoError(t, err)
	assert.Equal(t, "Example Bistro", details.Name)
	assert.Equal(t, "(415) 555-0101", details.Phone)
	require.NotNil(t, details.Rating)
	assert.InDelta(t, 4.5, *details.Rating, 0.001)
	require.NotNil(t, details.ReviewCount)
	assert.Equal(t, 312, *details.ReviewCount)
	assert.Contains(t, details.Hours, "Monday")
}

func TestDetailsQuotaErrorSurfacesAsQuotaError(t *testing.T) {
	m := new(mocks.MockClient)
	m.On("GetDetails", mock.Anything, "place-1").Return(nil, eris.New("google: details status 429: RESOURCE_EXHAUSTED"))

	c := newTestClient(m)
	_, err := c.Details(context.Background(), capability.PlaceID{Value: "place-1"})
	require.Error(t, err)
	assert.True(t, xerrors.IsQuotaError(err))
}

func TestNearbyComputesDistance(t *testing.T) {
	m := new(mocks.MockClient)
	m.On("SearchNearby", mock.Anything, mock.Anything).Return(&google.NearbySearchResponse{
		Places: []google.DiscoveryPlace{{
			DisplayName:      google.DisplayName{Text: "Rival Trattoria"},
			FormattedAddress: "456 Elm St",
			Location:         &google.LatLng{Latitude: 37.78, Longitude: -122.42},
		}},
	}, nil)

	c := newTestClient(m)
	competitors, err := c.Nearby(context.Background(), capability.PlaceID{Value: "place-1", Lat: 37.77, Lng: -122.41}, 1500, "")
	require.NoError(t, err)
	require.Len(t, competitors, 1)
	assert.Equal(t, "Rival Trattoria", competitors[0].Name)
	require.NotNil(t, competitors[0].DistanceKM)
	assert.Greater(t, *competitors[0].DistanceKM, 0.0)
}

func TestNearbyRequiresCoordinates(t *testing.T) {
	m := new(mocks.MockClient)
	c := newTestClient(m)
	_, err := c.Nearby(context.Background(), capability.PlaceID{Value: "place-1"}, 1500, "")
	assert.Error(t, err)
}

package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/httpx"
	"github.com/sells-group/restaurant-intel/internal/model"
	"github.com/sells-group/restaurant-intel/internal/resilience"
)

// stubPlaces always resolves one place with a handful of details.
type stubPlaces struct {
	details *capability.PlaceDetails
	err     error
}

func (s *stubPlaces) Lookup(ctx context.Context, queryText string) (*capability.PlaceID, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &capability.PlaceID{Value: "place-1", Lat: 40.0, Lng: -73.0}, nil
}

func (s *stubPlaces) Details(ctx context.Context, id capability.PlaceID) (*capability.PlaceDetails, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.details, nil
}

func (s *stubPlaces) Nearby(ctx context.Context, id capability.PlaceID, radiusM int, keyword string) ([]model.CompetitorSummary, error) {
	return nil, nil
}

var _ capability.Places = (*stubPlaces)(nil)

func newTestOrchestrator(caps capability.Bundle) *Orchestrator {
	client := httpx.New(httpx.Options{})
	calc := cost.NewCalculator(cost.DefaultRates())
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	return New(caps, client, calc, breakers, nil)
}

func TestRun_InvalidURL_ReturnsInputError(t *testing.T) {
	o := newTestOrchestrator(capability.Bundle{})
	_, _, err := o.Run(context.Background(), "not a url", model.DefaultOptions())
	require.Error(t, err)
}

func TestRun_PlacesOnly_ReachesGate1AndSkipsLaterPhases(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Joe's Diner</title></head><body>Welcome</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rating := 4.5
	reviews := 120
	lat, lng := 40.1, -73.1
	places := &stubPlaces{details: &capability.PlaceDetails{
		Name: "Joe's Diner", Address: "1 Main St", Phone: "+15551234567",
		Website: srv.URL, Rating: &rating, ReviewCount: &reviews,
		Hours: "Mon-Sun 9-9", PriceLevel: "$$", Cuisine: "American",
		Lat: &lat, Lng: &lng,
	}}

	o := newTestOrchestrator(capability.Bundle{Places: places})
	opts := model.DefaultOptions()
	opts.EnableStrategicAnalysis = false

	final, analysis, err := o.Run(context.Background(), srv.URL, opts)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Nil(t, analysis)
	assert.Equal(t, "Joe's Diner", final.Name.Value)
	assert.Contains(t, final.ExtractionMetadata.PhasesCompleted, 1)
	assert.NotContains(t, final.ExtractionMetadata.PhasesCompleted, 2)
	assert.Equal(t, model.StatusOK, final.ExtractionMetadata.OverallStatus)
}

func TestRun_NoCapabilities_ProgressesThroughAllGatesAsPartial(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>empty</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := newTestOrchestrator(capability.Bundle{})
	opts := model.DefaultOptions()
	opts.EnableStrategicAnalysis = false

	final, _, err := o.Run(context.Background(), srv.URL, opts)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, model.StatusPartial, final.ExtractionMetadata.OverallStatus)
	assert.Contains(t, final.ExtractionMetadata.PhasesCompleted, 1)
	assert.Contains(t, final.ExtractionMetadata.PhasesCompleted, 2)
	assert.Contains(t, final.ExtractionMetadata.PhasesCompleted, 3)
	assert.Contains(t, final.ExtractionMetadata.PhasesCompleted, 4)
	assert.NotEmpty(t, final.ExtractionMetadata.PhaseErrors)
}

func TestRun_CancelledContext_ReturnsPartialNotError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>empty</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := newTestOrchestrator(capability.Bundle{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	final, _, err := o.Run(ctx, srv.URL, model.DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, model.StatusPartial, final.ExtractionMetadata.OverallStatus)
}

func TestRun_WallTimeBudget_StopsAtGate2(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>empty</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := newTestOrchestrator(capability.Bundle{})
	opts := model.DefaultOptions()
	opts.Budgets.MaxWallTimeS = 0.0000001
	time.Sleep(time.Millisecond)

	final, _, err := o.Run(context.Background(), srv.URL, opts)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.NotContains(t, final.ExtractionMetadata.PhasesCompleted, 3)
}

func TestMergeRecord_AppendsWithoutOverwriting(t *testing.T) {
	dst := model.NewPartialRecord("https://example.com")
	dst.Name.Append(model.NewRawField("A", model.SourcePlaces, 0.9, time.Now()))

	src := model.NewPartialRecord("https://example.com")
	src.Name.Append(model.NewRawField("B", model.SourceSchemaOrg, 0.7, time.Now()))
	src.MenuItems = append(src.MenuItems, model.MenuItem{Name: "Burger"})

	mergeRecord(dst, src)

	require.Len(t, dst.Name.Observations, 2)
	assert.Equal(t, "A", dst.Name.Observations[0].Value)
	assert.Equal(t, "B", dst.Name.Observations[1].Value)
	require.Len(t, dst.MenuItems, 1)
}

func TestClassifyComponentError_MapsKnownTypes(t *testing.T) {
	assert.Equal(t, "transient", classifyComponentError(resilience.NewTransientError(fmt.Errorf("boom"), 503)))
}

package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {
				Input: 0.80, Output: 4.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"sonnet": {
				Input: 3.00, Output: 15.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Places:   PlacesRate{PerLookup: 0.005, PerDetail: 0.017, PerNearby: 0.032},
		Browser:  BrowserRate{PerPageLoad: 0.001, PerScreenshot: 0.0005},
		Artifact: ArtifactRate{PerMiB: 0.00002},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name       string
		model      string
		isBatch    bool
		input      int
		output     int
		cacheWrite int
		cacheRead  int
		want       float64
	}{
		{
			name:  "haiku non-batch simple",
			model: "haiku", isBatch: false,
			input: 1000000, output: 100000,
			want: 0.80 + 0.40, // 0.80 input + 0.40 output
		},
		{
			name:  "haiku batch 50% discount",
			model: "haiku", isBatch: true,
			input: 1000000, output: 100000,
			want: (0.80 * 0.5) + (0.40 * 0.5), // 0.40 + 0.20
		},
		{
			name:  "haiku with cache",
			model: "haiku", isBatch: false,
			input: 500000, output: 50000,
			cacheWrite: 200000, cacheRead: 300000,
			// in: 0.5M/1M * 0.80 = 0.40
			// out: 0.05M/1M * 4.00 = 0.20
			// cw: 0.2M/1M * 0.80 * 1.25 = 0.20
			// cr: 0.3M/1M * 0.80 * 0.1 = 0.024
			want: 0.40 + 0.20 + 0.20 + 0.024,
		},
		{
			name:  "sonnet non-batch",
			model: "sonnet", isBatch: false,
			input: 1000000, output: 100000,
			want: 3.00 + 1.50, // 3.00 input + 1.50 output
		},
		{
			name:  "unknown model returns 0",
			model: "unknown", isBatch: false,
			input: 1000000, output: 1000000,
			want: 0,
		},
		{
			name:  "zero tokens returns 0",
			model: "haiku", isBatch: false,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Claude(tt.model, tt.isBatch, tt.input, tt.output, tt.cacheWrite, tt.cacheRead)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestClaude_BatchWithCache(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	got := calc.Claude("haiku", true, 1000000, 100000, 500000, 200000)
	// in: 1M/1M * 0.80 * 0.5 = 0.40
	// out: 0.1M/1M * 4.00 * 0.5 = 0.20
	// cw: 0.5M/1M * 0.80 * 1.25 * 0.5 = 0.25
	// cr: 0.2M/1M * 0.80 * 0.1 * 0.5 = 0.008
	want := 0.40 + 0.20 + 0.25 + 0.008
	assert.InDelta(t, want, got, 0.001)
}

func TestPlacesHeuristics(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	assert.InDelta(t, 0.005, calc.PlacesLookup(), 0.0001)
	assert.InDelta(t, 0.017, calc.PlacesDetails(), 0.0001)
	assert.InDelta(t, 0.032, calc.PlacesNearby(), 0.0001)
}

func TestBrowserHeuristics(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	assert.InDelta(t, 0.005, calc.BrowserPageLoad(5), 0.0001)
	assert.InDelta(t, 0.006, calc.BrowserScreenshot(12), 0.0001)
	assert.InDelta(t, 0, calc.BrowserPageLoad(0), 0.0001)
}

func TestArtifactStorage(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	got := calc.ArtifactStorage(10 * 1024 * 1024) // 10 MiB
	assert.InDelta(t, 10*0.00002, got, 0.000001)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	rates := DefaultRates()

	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.Contains(t, rates.Anthropic, "claude-sonnet-4-5-20250929")
	assert.Greater(t, rates.Places.PerDetail, 0.0)
	assert.Greater(t, rates.Browser.PerPageLoad, 0.0)
	assert.Greater(t, rates.Artifact.PerMiB, 0.0)
}

func TestRatesFromConfig_EmptyConfig(t *testing.T) {
	t.Parallel()
	rates := RatesFromConfig(PricingConfig{})
	defaults := DefaultRates()

	assert.Equal(t, defaults.Places, rates.Places)
	assert.Equal(t, defaults.Browser, rates.Browser)
	assert.Equal(t, defaults.Artifact, rates.Artifact)
	assert.Len(t, rates.Anthropic, len(defaults.Anthropic))
	for model, defRate := range defaults.Anthropic {
		assert.Equal(t, defRate, rates.Anthropic[model], "model %s should match default", model)
	}
}

func TestRatesFromConfig_OverrideAnthropicModel(t *testing.T) {
	t.Parallel()
	cfg := PricingConfig{
		Anthropic: map[string]ModelPricing{
			"claude-haiku-4-5-20251001": {
				Input:  1.00,
				Output: 5.00,
			},
		},
	}
	rates := RatesFromConfig(cfg)

	haiku := rates.Anthropic["claude-haiku-4-5-20251001"]
	assert.InDelta(t, 1.00, haiku.Input, 0.001)
	assert.InDelta(t, 5.00, haiku.Output, 0.001)
	defaults := DefaultRates()
	assert.InDelta(t, defaults.Anthropic["claude-haiku-4-5-20251001"].BatchDiscount, haiku.BatchDiscount, 0.001)
	assert.InDelta(t, defaults.Anthropic["claude-haiku-4-5-20251001"].CacheWriteMul, haiku.CacheWriteMul, 0.001)
	assert.InDelta(t, defaults.Anthropic["claude-haiku-4-5-20251001"].CacheReadMul, haiku.CacheReadMul, 0.001)

	sonnet := rates.Anthropic["claude-sonnet-4-5-20250929"]
	assert.InDelta(t, defaults.Anthropic["claude-sonnet-4-5-20250929"].Input, sonnet.Input, 0.001)
}

func TestRatesFromConfig_OverridePlacesBrowserArtifact(t *testing.T) {
	t.Parallel()
	cfg := PricingConfig{
		Places:   PlacesRate{PerLookup: 0.01, PerDetail: 0.03, PerNearby: 0.05},
		Browser:  BrowserRate{PerPageLoad: 0.002, PerScreenshot: 0.001},
		Artifact: ArtifactRate{PerMiB: 0.00005},
	}
	rates := RatesFromConfig(cfg)

	assert.InDelta(t, 0.01, rates.Places.PerLookup, 0.0001)
	assert.InDelta(t, 0.03, rates.Places.PerDetail, 0.0001)
	assert.InDelta(t, 0.05, rates.Places.PerNearby, 0.0001)
	assert.InDelta(t, 0.002, rates.Browser.PerPageLoad, 0.0001)
	assert.InDelta(t, 0.001, rates.Browser.PerScreenshot, 0.0001)
	assert.InDelta(t, 0.00005, rates.Artifact.PerMiB, 0.000001)
}

func TestRatesFromConfig_ZeroValuesKeepDefaults(t *testing.T) {
	t.Parallel()
	cfg := PricingConfig{
		Places:   PlacesRate{},
		Browser:  BrowserRate{},
		Artifact: ArtifactRate{},
	}
	rates := RatesFromConfig(cfg)
	defaults := DefaultRates()

	assert.InDelta(t, defaults.Places.PerLookup, rates.Places.PerLookup, 0.0001)
	assert.InDelta(t, defaults.Browser.PerPageLoad, rates.Browser.PerPageLoad, 0.0001)
	assert.InDelta(t, defaults.Artifact.PerMiB, rates.Artifact.PerMiB, 0.000001)
}

func TestRatesFromConfig_NewAnthropicModel(t *testing.T) {
	t.Parallel()
	cfg := PricingConfig{
		Anthropic: map[string]ModelPricing{
			"custom-model": {
				Input:         2.00,
				Output:        10.00,
				BatchDiscount: 0.6,
				CacheWriteMul: 1.5,
				CacheReadMul:  0.2,
			},
		},
	}
	rates := RatesFromConfig(cfg)

	custom := rates.Anthropic["custom-model"]
	assert.InDelta(t, 2.00, custom.Input, 0.001)
	assert.InDelta(t, 10.00, custom.Output, 0.001)
	assert.InDelta(t, 0.6, custom.BatchDiscount, 0.001)
	assert.InDelta(t, 1.5, custom.CacheWriteMul, 0.001)
	assert.InDelta(t, 0.2, custom.CacheReadMul, 0.001)
}

func TestNewCalculator(t *testing.T) {
	t.Parallel()
	rates := testRates()
	calc := NewCalculator(rates)
	assert.NotNil(t, calc)
	assert.Equal(t, rates, calc.rates)
}

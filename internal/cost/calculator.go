// Package cost tracks and calculates the cost estimate every component
// returns, even components with no metered API usage (spec.md §9: "Cost
// accounting in the source is partial; spec requires every component to
// report an estimate, even if heuristic").
package cost

// Rates holds per-provider/per-capability pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Places    PlacesRate           `yaml:"places" mapstructure:"places"`
	Browser   BrowserRate          `yaml:"browser" mapstructure:"browser"`
	Artifact  ArtifactRate         `yaml:"artifact" mapstructure:"artifact"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PlacesRate is the flat heuristic cost per places-directory call, used
// because the directory API's real billing is opaque to this module.
type PlacesRate struct {
	PerLookup float64 `yaml:"per_lookup" mapstructure:"per_lookup"`
	PerDetail float64 `yaml:"per_detail" mapstructure:"per_detail"`
	PerNearby float64 `yaml:"per_nearby" mapstructure:"per_nearby"`
}

// BrowserRate is the heuristic cost of headless-browser work: per page
// navigation and per screenshot/PDF capture, standing in for compute time
// on whatever infrastructure runs the browser.
type BrowserRate struct {
	PerPageLoad  float64 `yaml:"per_page_load" mapstructure:"per_page_load"`
	PerScreenshot float64 `yaml:"per_screenshot" mapstructure:"per_screenshot"`
}

// ArtifactRate is the heuristic storage cost per MiB of artifact bytes.
type ArtifactRate struct {
	PerMiB float64 `yaml:"per_mib" mapstructure:"per_mib"`
}

// Calculator computes costs for API usage and heuristic non-LLM work.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call (text or vision;
// multimodal requests are billed the same as text per input/output
// token, per the provider's pricing model).
func (c *Calculator) Claude(model string, isBatch bool, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	batchMul := 1.0
	if isBatch {
		batchMul = rate.BatchDiscount
	}

	inCost := (float64(input) / 1e6) * rate.Input * batchMul
	outCost := (float64(output) / 1e6) * rate.Output * batchMul
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul * batchMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul * batchMul

	return inCost + outCost + cwCost + crCost
}

// PlacesLookup returns the heuristic cost of one PlacesClient.lookup call.
func (c *Calculator) PlacesLookup() float64 { return c.rates.Places.PerLookup }

// PlacesDetails returns the heuristic cost of one PlacesClient.details call.
func (c *Calculator) PlacesDetails() float64 { return c.rates.Places.PerDetail }

// PlacesNearby returns the heuristic cost of one PlacesClient.nearby call.
func (c *Calculator) PlacesNearby() float64 { return c.rates.Places.PerNearby }

// BrowserPageLoad returns the heuristic cost of n DOMCrawler/selective
// browsing page navigations.
func (c *Calculator) BrowserPageLoad(n int) float64 {
	return float64(n) * c.rates.Browser.PerPageLoad
}

// BrowserScreenshot returns the heuristic cost of n screenshot captures.
func (c *Calculator) BrowserScreenshot(n int) float64 {
	return float64(n) * c.rates.Browser.PerScreenshot
}

// ArtifactStorage returns the heuristic storage cost for sizeBytes.
func (c *Calculator) ArtifactStorage(sizeBytes int64) float64 {
	mib := float64(sizeBytes) / (1024 * 1024)
	return mib * c.rates.Artifact.PerMiB
}

// RatesFromConfig converts config pricing into cost rates, falling back
// to DefaultRates() for any zero-value fields.
func RatesFromConfig(cfg PricingConfig) Rates {
	defaults := DefaultRates()

	rates := Rates{
		Anthropic: make(map[string]ModelRate),
		Places:    defaults.Places,
		Browser:   defaults.Browser,
		Artifact:  defaults.Artifact,
	}

	for k, v := range defaults.Anthropic {
		rates.Anthropic[k] = v
	}

	for model, mp := range cfg.Anthropic {
		r := ModelRate{}
		if existing, ok := rates.Anthropic[model]; ok {
			r = existing
		}
		if mp.Input > 0 {
			r.Input = mp.Input
		}
		if mp.Output > 0 {
			r.Output = mp.Output
		}
		if mp.BatchDiscount > 0 {
			r.BatchDiscount = mp.BatchDiscount
		}
		if mp.CacheWriteMul > 0 {
			r.CacheWriteMul = mp.CacheWriteMul
		}
		if mp.CacheReadMul > 0 {
			r.CacheReadMul = mp.CacheReadMul
		}
		rates.Anthropic[model] = r
	}

	if cfg.Places.PerLookup > 0 {
		rates.Places.PerLookup = cfg.Places.PerLookup
	}
	if cfg.Places.PerDetail > 0 {
		rates.Places.PerDetail = cfg.Places.PerDetail
	}
	if cfg.Places.PerNearby > 0 {
		rates.Places.PerNearby = cfg.Places.PerNearby
	}
	if cfg.Browser.PerPageLoad > 0 {
		rates.Browser.PerPageLoad = cfg.Browser.PerPageLoad
	}
	if cfg.Browser.PerScreenshot > 0 {
		rates.Browser.PerScreenshot = cfg.Browser.PerScreenshot
	}
	if cfg.Artifact.PerMiB > 0 {
		rates.Artifact.PerMiB = cfg.Artifact.PerMiB
	}

	return rates
}

// PricingConfig mirrors config.PricingConfig to avoid an import cycle.
// Used by RatesFromConfig to convert config types into cost types.
type PricingConfig struct {
	Anthropic map[string]ModelPricing
	Places    PlacesRate
	Browser   BrowserRate
	Artifact  ArtifactRate
}

// ModelPricing mirrors config.ModelPricing.
type ModelPricing struct {
	Input         float64
	Output        float64
	BatchDiscount float64
	CacheWriteMul float64
	CacheReadMul  float64
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Places: PlacesRate{
			PerLookup: 0.005,
			PerDetail: 0.017,
			PerNearby: 0.032,
		},
		Browser: BrowserRate{
			PerPageLoad:   0.001,
			PerScreenshot: 0.0005,
		},
		Artifact: ArtifactRate{
			PerMiB: 0.00002,
		},
	}
}

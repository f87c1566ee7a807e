package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/agentic"
	"github.com/sells-group/restaurant-intel/internal/artifactstore"
	"github.com/sells-group/restaurant-intel/internal/browser"
	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/config"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/httpx"
	"github.com/sells-group/restaurant-intel/internal/llmclient"
	"github.com/sells-group/restaurant-intel/internal/orchestrator"
	"github.com/sells-group/restaurant-intel/internal/places"
	"github.com/sells-group/restaurant-intel/internal/resilience"
	"github.com/sells-group/restaurant-intel/internal/store"
	"github.com/sells-group/restaurant-intel/internal/vision"
	anthropicpkg "github.com/sells-group/restaurant-intel/pkg/anthropic"
	"github.com/sells-group/restaurant-intel/pkg/google"
)

// runEnv holds every initialized client and the orchestrator the run
// command needs. Callers should defer env.Close().
type runEnv struct {
	Store        store.Store
	ArtifactSrv  *artifactstore.Server
	Browser      *browser.Chrome
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the run environment.
func (e *runEnv) Close() {
	if e.Browser != nil {
		_ = e.Browser.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// costRatesFromConfig adapts config.PricingConfig (viper-bound) into
// cost.PricingConfig (the calculator's own input type). It only converts
// types; cost.RatesFromConfig fills anything left unset from
// cost.DefaultRates().
func costRatesFromConfig(cfg config.PricingConfig) cost.PricingConfig {
	out := cost.PricingConfig{
		Anthropic: make(map[string]cost.ModelPricing, len(cfg.Anthropic)),
		Places:    cost.PlacesRate{PerLookup: cfg.Places.PerLookup, PerDetail: cfg.Places.PerDetail, PerNearby: cfg.Places.PerNearby},
		Browser:   cost.BrowserRate{PerPageLoad: cfg.Browser.PerPageLoad, PerScreenshot: cfg.Browser.PerScreenshot},
		Artifact:  cost.ArtifactRate{PerMiB: cfg.Artifact.PerMiB},
	}
	for model, mp := range cfg.Anthropic {
		out.Anthropic[model] = cost.ModelPricing{
			Input: mp.Input, Output: mp.Output, BatchDiscount: mp.BatchDiscount,
			CacheWriteMul: mp.CacheWriteMul, CacheReadMul: mp.CacheReadMul,
		}
	}
	return out
}

// initStore opens the configured metadata backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "init %s store", cfg.Store.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRunEnv builds the capability bundle and wires the orchestrator.
// The headless browser is launched eagerly since both DOMCrawler and
// SelectiveBrowsingExtractor need it; a launch failure degrades those
// phases to ResourceError rather than aborting the whole run.
func initRunEnv(ctx context.Context) (*runEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	rates := cost.RatesFromConfig(costRatesFromConfig(cfg.Pricing))
	costCalc := cost.NewCalculator(rates)
	breakers := resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	retryCfg := resilience.DefaultRetryConfig()

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	textCap := llmclient.NewText(anthropicClient, cfg.Anthropic.SonnetModel, costCalc, breakers.Get("anthropic-text"), retryCfg)
	visionCap := llmclient.NewVision(anthropicClient, cfg.Anthropic.VisionModel, costCalc, breakers.Get("anthropic-vision"), retryCfg)

	artifactStore, err := artifactstore.New(cfg.Artifact.BaseDir)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init artifact store")
	}
	artifactSrv := artifactstore.NewServer(artifactStore)

	var placesCap capability.Places
	if cfg.Places.Key != "" {
		googleClient := google.NewClient(cfg.Places.Key, google.WithBaseURL(cfg.Places.BaseURL))
		placesCap = places.New(googleClient, breakers.Get("places"), retryCfg, costCalc)
	} else {
		zap.L().Warn("places.key not set, PlacesClient disabled for this run")
	}

	var chrome *browser.Chrome
	var browserCap capability.Browser
	var agenticCap capability.AgenticBrowser
	chrome, err = browser.Launch(ctx, browser.Config{
		BinaryPath: cfg.Browser.BinaryPath,
		Headless:   cfg.Browser.Headless,
		NavTimeout: time.Duration(cfg.Browser.NavTimeoutMS) * time.Millisecond,
		SettleWait: time.Duration(cfg.Browser.SettleMS) * time.Millisecond,
	})
	if err != nil {
		zap.L().Warn("browser launch failed, DOMCrawler and SelectiveBrowsingExtractor will be disabled", zap.Error(err))
	} else {
		browserCap = chrome
		if cfg.Selective.Enabled {
			budget := agentic.Budget{
				MaxPages:    cfg.Selective.MaxPageLoads,
				MaxWallTime: time.Duration(cfg.Selective.MaxWallTimeS) * time.Second,
			}
			agenticCap = agentic.New(chrome, textCap, budget)
		}
	}

	caps := capability.Bundle{
		Places:         placesCap,
		Artifact:       artifactStore,
		Browser:        browserCap,
		LLMText:        textCap,
		LLMVision:      visionCap,
		AgenticBrowser: agenticCap,
	}

	httpClient := httpx.New(httpx.Options{})

	var rasterizer vision.PDFRasterizer
	if chrome != nil {
		rasterizer = chrome
	}

	o := orchestrator.New(caps, httpClient, costCalc, breakers, rasterizer)

	return &runEnv{Store: st, ArtifactSrv: artifactSrv, Browser: chrome, Orchestrator: o}, nil
}

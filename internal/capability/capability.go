// Package capability declares the narrow interfaces the orchestrator
// depends on for every external collaborator (spec.md §9: "Global module
// state and ad-hoc clients" → explicit dependency injection). Components
// receive only the capabilities they need; test doubles satisfy the same
// interfaces so orchestrator tests never touch a real browser, LLM, or
// places directory.
package capability

import (
	"context"

	"github.com/sells-group/restaurant-intel/internal/model"
)

// Places is the read-only places/maps directory lookup contract (C2).
type Places interface {
	Lookup(ctx context.Context, queryText string) (*PlaceID, error)
	Details(ctx context.Context, id PlaceID) (*PlaceDetails, error)
	Nearby(ctx context.Context, id PlaceID, radiusM int, keyword string) ([]model.CompetitorSummary, error)
}

// PlaceID is an opaque handle returned by Places.Lookup.
type PlaceID struct {
	Value string
	Lat   float64
	Lng   float64
}

// PlaceDetails is the subset of a places-directory record PlacesClient
// maps into PartialRecord observations.
type PlaceDetails struct {
	Name          string
	Address       string
	Phone         string
	Website       string
	Rating        *float64
	ReviewCount   *int
	Hours         string
	PriceLevel    string
	Cuisine       string
	Lat           *float64
	Lng           *float64
}

// Artifact is the store contract (C1): content-addressed blob storage
// for screenshots, PDFs, and captured page HTML.
type Artifact interface {
	Put(ctx context.Context, bytes []byte, kind model.MediaKind, hintPath string) (*model.ArtifactRef, error)
	Get(ctx context.Context, uri string) ([]byte, error)
}

// BrowserPage is one open tab/page in a shared browser context.
type BrowserPage interface {
	Navigate(ctx context.Context, url string) error
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Evaluate(ctx context.Context, js string) (string, error)
	Query(ctx context.Context, selector string) ([]string, error)
	WaitDownload(ctx context.Context) ([]byte, bool, error)
	Close() error
}

// Browser is the headless-browser capability (C5, C7): navigate,
// screenshot, download, content, query selectors, evaluate.
type Browser interface {
	NewPage(ctx context.Context) (BrowserPage, error)
	Close() error
}

// LLMText is the text LLM service contract: JSON-mode completion with a
// token cap, used by C9 (ambiguous canonicalization) and C10 (strategic
// analysis prompts).
type LLMText interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (text string, cost float64, err error)
}

// LLMVision is the multimodal LLM service contract: accepts base64
// images and returns JSON text, used by C6 (menu extraction from
// screenshots/PDF pages).
type LLMVision interface {
	CompleteWithImages(ctx context.Context, system, prompt string, images []Image, maxTokens int) (text string, cost float64, err error)
}

// Image is one inline image submitted to the vision LLM.
type Image struct {
	MediaType string // "image/png" or "image/jpeg"
	Data      []byte
}

// BatchImageItem is one unit of work in a batched vision submission:
// CustomID identifies it in the returned map (VisionProcessor uses the
// source artifact's URI).
type BatchImageItem struct {
	CustomID string
	Prompt   string
	Images   []Image
}

// LLMVisionBatch is an optional capability.LLMVision extension for
// providers that support asynchronous batch submission. VisionProcessor
// uses it instead of CompleteWithImages when it is available and there
// is more than one image to submit, trading per-image round trips for
// one poll loop and the provider's batch-processing discount.
type LLMVisionBatch interface {
	CompleteImagesBatch(ctx context.Context, system string, items []BatchImageItem, maxTokens int) (texts map[string]string, cost float64, err error)
}

// AgenticBrowser drives a guided LLM browsing session that fills only
// named missing fields (C7).
type AgenticBrowser interface {
	FillFields(ctx context.Context, targetURL string, fieldPaths []string, hints map[string]string) (*AgenticResult, error)
}

// AgenticResult is what a selective-browsing session managed to fill in.
type AgenticResult struct {
	Filled      map[string]string
	Screenshots [][]byte
	Cost        float64
	PagesLoaded int
}

// Bundle groups every capability the orchestrator needs for one run.
// Any field may be nil if the corresponding phase is disabled; the
// orchestrator treats a nil capability the same as a ResourceError for
// phases that require it.
type Bundle struct {
	Places         Places
	Artifact       Artifact
	Browser        Browser
	LLMText        LLMText
	LLMVision      LLMVision
	AgenticBrowser AgenticBrowser
}

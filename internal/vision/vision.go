// Package vision implements C6, the VisionProcessor: runs a vision LLM
// over screenshots and rasterized PDF pages to extract menu items and
// page captions (spec.md §4.6). This is one of the four hard pieces
// spec.md §1 calls out — "the vision/PDF ingestion path that turns
// images and rasterized PDF pages into menu items."
package vision

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/llmjson"
	"github.com/sells-group/restaurant-intel/internal/model"
)

// maxImageBytesDefault is the hard cap on per-image input size before
// downscaling kicks in (spec.md §4.6: "downscale images whose encoded
// size exceeds a threshold, e.g., 4 MiB").
const maxImageBytesDefault = 4 * 1024 * 1024

// PDFRasterizer renders PDF pages to PNG images, bounded to the first
// maxPages pages (spec.md §4.6 PDF path). Implemented by
// internal/browser.Chrome via the browser's built-in PDF viewer.
type PDFRasterizer interface {
	RasterizePDF(ctx context.Context, pdfBytes []byte, maxPages int) ([][]byte, error)
}

// Result is the yield of one Process call.
type Result struct {
	MenuItems    []model.MenuItem
	NewArtifacts []model.ArtifactRef
	ContextNotes []string
	Errors       []error
	CostUSD      float64
}

// Processor drives C6 over a set of screenshot and PDF artifacts.
type Processor struct {
	llmVision  capability.LLMVision
	artifact   capability.Artifact
	rasterizer PDFRasterizer
	costCalc   *cost.Calculator
	opts       model.VisionOptions
	maxImgBytes int64
}

// New builds a Processor. rasterizer may be nil, in which case PDF
// artifacts are skipped with a recorded error (no rasterization path
// available) while the image path over screenshots still runs.
func New(llmVision capability.LLMVision, artifact capability.Artifact, rasterizer PDFRasterizer, costCalc *cost.Calculator, opts model.VisionOptions) *Processor {
	maxPages := opts.MaxPDFPages
	if maxPages <= 0 {
		maxPages = 5
	}
	return &Processor{
		llmVision:   llmVision,
		artifact:    artifact,
		rasterizer:  rasterizer,
		costCalc:    costCalc,
		opts:        model.VisionOptions{MaxPDFPages: maxPages},
		maxImgBytes: maxImageBytesDefault,
	}
}

// visionMenuItem is the strict JSON shape the menu-extraction prompt
// demands per image (spec.md §4.6).
type visionMenuItem struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	PriceOriginal string `json:"price_original,omitempty"`
	PriceCleaned  string `json:"price_cleaned,omitempty"`
	Category      string `json:"category,omitempty"`
}

type visionMenuResponse struct {
	Items []visionMenuItem `json:"items"`
	Notes string           `json:"notes,omitempty"`
}

const menuExtractionSystem = `You are a menu-extraction assistant. Given a photo or scanned page from a restaurant's website or menu PDF, extract every distinct menu item you can see. Respond with strict JSON only, matching the schema described in the prompt. If the image has no menu items, return {"items": [], "notes": "no menu items visible"}.`

const menuExtractionPrompt = `Extract every menu item visible in this image as a JSON object:
{"items": [{"name": "...", "description": "...", "price_original": "...", "price_cleaned": "...", "category": "..."}], "notes": "..."}
"price_original" is the price exactly as printed. "price_cleaned" is the numeric price as a plain decimal string with no currency symbol, or omitted if not derivable. Omit a field entirely rather than guessing. Return ONLY the JSON object, no commentary.`

// preparedImage is one artifact ready for extraction, gathered from
// either a screenshot artifact or a rasterized PDF page, before the
// per-image or batched LLM call runs.
type preparedImage struct {
	customID  string
	data      []byte
	mediaType string
}

// Process runs the image path over screenshotArtifacts and the PDF path
// over pdfArtifacts, returning the unioned, deduplicated menu items plus
// any newly rasterized screenshot artifacts (spec.md §4.6 post-
// processing: union, dedupe by lower-cased trimmed name, drop empty
// names, clamp price >= 0). When llmVision supports batch submission and
// there is more than one image queued, every image is submitted as one
// Batches-API request instead of one call per image.
func (p *Processor) Process(ctx context.Context, screenshotArtifacts, pdfArtifacts []model.ArtifactRef) *Result {
	result := &Result{}

	var prepared []preparedImage
	for _, ref := range screenshotArtifacts {
		data, err := p.artifact.Get(ctx, ref.URI)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		data, mediaType := downscaleIfNeeded(data, ref.MediaKind, p.maxImgBytes)
		prepared = append(prepared, preparedImage{customID: ref.URI, data: data, mediaType: mediaType})
	}

	for _, ref := range pdfArtifacts {
		prepared = append(prepared, p.rasterizePDF(ctx, ref, result)...)
	}

	if batchLLM, ok := p.llmVision.(capability.LLMVisionBatch); ok && len(prepared) > 1 {
		p.processBatch(ctx, batchLLM, prepared, result)
	} else {
		for _, img := range prepared {
			p.processSingle(ctx, img, result)
		}
	}

	result.MenuItems = dedupeMenuItems(result.MenuItems)
	return result
}

// rasterizePDF renders ref's pages, uploads each as a new phase-3
// screenshot artifact, and returns them as pending images for the
// extraction pass (spec.md §4.6 PDF path).
func (p *Processor) rasterizePDF(ctx context.Context, ref model.ArtifactRef, result *Result) []preparedImage {
	if p.rasterizer == nil {
		result.Errors = append(result.Errors, pdfRasterizerUnavailable(ref.URI))
		return nil
	}

	pdfBytes, err := p.artifact.Get(ctx, ref.URI)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return nil
	}

	pages, err := p.rasterizer.RasterizePDF(ctx, pdfBytes, p.opts.MaxPDFPages)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return nil
	}

	now := time.Now()
	out := make([]preparedImage, 0, len(pages))
	for i, pageImg := range pages {
		pageImg, mediaType := downscaleIfNeeded(pageImg, model.MediaImagePNG, p.maxImgBytes)
		pageRef, err := p.artifact.Put(ctx, pageImg, model.MediaImagePNG, pdfPageCaption(ref.URI, i+1))
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		pageRef.ProducingPhase = 3
		pageRef.CapturedAt = now
		result.NewArtifacts = append(result.NewArtifacts, *pageRef)
		out = append(out, preparedImage{customID: pageRef.URI, data: pageImg, mediaType: mediaType})
	}
	return out
}

// processSingle runs the synchronous per-image extraction path: the
// default when the vision capability has no batch support, or there is
// only one image to submit.
func (p *Processor) processSingle(ctx context.Context, img preparedImage, result *Result) {
	items, notes, c, err := p.extractItems(ctx, img.data, img.mediaType)
	result.CostUSD += c
	if err != nil {
		result.Errors = append(result.Errors, err)
		return
	}
	for _, it := range items {
		result.MenuItems = append(result.MenuItems, toMenuItem(it, img.customID))
	}
	if notes != "" {
		result.ContextNotes = append(result.ContextNotes, notes)
	}
}

// processBatch submits every prepared image as one Anthropic Batches-API
// request, trading per-image round trips for one poll loop and the
// provider's batch-processing discount (spec.md §1's cost-aware
// framing). A batch-submission failure falls back to the synchronous
// path rather than losing every queued image; a missing or malformed
// per-item result is isolated the same way the synchronous path
// isolates per-artifact errors.
func (p *Processor) processBatch(ctx context.Context, llm capability.LLMVisionBatch, images []preparedImage, result *Result) {
	items := make([]capability.BatchImageItem, len(images))
	for i, img := range images {
		items[i] = capability.BatchImageItem{
			CustomID: img.customID,
			Prompt:   menuExtractionPrompt,
			Images:   []capability.Image{{MediaType: img.mediaType, Data: img.data}},
		}
	}

	texts, batchCost, err := llm.CompleteImagesBatch(ctx, menuExtractionSystem, items, 2048)
	result.CostUSD += batchCost
	if err != nil {
		result.Errors = append(result.Errors, err)
		for _, img := range images {
			p.processSingle(ctx, img, result)
		}
		return
	}

	for _, img := range images {
		text, ok := texts[img.customID]
		if !ok {
			result.Errors = append(result.Errors, batchItemMissing(img.customID))
			continue
		}
		parsed, perr := llmjson.DecodeJSON[visionMenuResponse]("vision.batch", text)
		if perr != nil {
			result.Errors = append(result.Errors, perr)
			continue
		}
		for _, it := range parsed.Items {
			result.MenuItems = append(result.MenuItems, toMenuItem(it, img.customID))
		}
		if parsed.Notes != "" {
			result.ContextNotes = append(result.ContextNotes, parsed.Notes)
		}
	}
}

func (p *Processor) extractItems(ctx context.Context, data []byte, mediaType string) ([]visionMenuItem, string, float64, error) {
	images := []capability.Image{{MediaType: mediaType, Data: data}}
	res, err := llmjson.CallWithImages[visionMenuResponse](ctx, p.llmVision, "vision", menuExtractionSystem, menuExtractionPrompt, images, 2048)
	if err != nil {
		return nil, "", res.Cost, err
	}
	return res.Value.Items, res.Value.Notes, res.Cost, nil
}

func toMenuItem(it visionMenuItem, artifactURI string) model.MenuItem {
	item := model.MenuItem{
		Name:           strings.TrimSpace(it.Name),
		Description:    it.Description,
		PriceRaw:       it.PriceOriginal,
		SourceTag:      model.SourceVision,
		SourceArtifact: artifactURI,
	}
	if cat := model.MenuCategory(strings.ToLower(strings.TrimSpace(it.Category))); cat != "" {
		item.Category = cat
	}
	if price, ok := parseCleanedPrice(it.PriceCleaned, it.PriceOriginal); ok {
		if price < 0 {
			price = 0
		}
		item.PriceNumeric = &price
	}
	return item
}

// parseCleanedPrice prefers the model's own cleaned numeric string,
// falling back to extracting the first numeric run from the original
// printed price.
func parseCleanedPrice(cleaned, original string) (float64, bool) {
	if cleaned != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64); err == nil {
			return f, true
		}
	}
	if n := firstNumericRun(original); n != "" {
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func firstNumericRun(s string) string {
	var sb strings.Builder
	seenDigit := false
	seenDot := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
			seenDigit = true
		case r == '.' && seenDigit && !seenDot:
			sb.WriteRune(r)
			seenDot = true
		case seenDigit:
			return sb.String()
		}
	}
	if seenDigit {
		return sb.String()
	}
	return ""
}

// dedupeMenuItems dedupes by NormalizedName, drops empty names, and
// clamps PriceNumeric >= 0 (spec.md §4.6 post-processing).
func dedupeMenuItems(items []model.MenuItem) []model.MenuItem {
	seen := make(map[string]bool)
	out := make([]model.MenuItem, 0, len(items))
	for _, it := range items {
		if it.PriceNumeric != nil && *it.PriceNumeric < 0 {
			zero := 0.0
			it.PriceNumeric = &zero
		}
		key := it.NormalizedName()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func pdfPageCaption(pdfURI string, page int) string {
	return "pdf page " + strconv.Itoa(page) + " of " + pdfURI
}

func pdfRasterizerUnavailable(uri string) error {
	return &rasterizerUnavailableError{uri: uri}
}

type rasterizerUnavailableError struct{ uri string }

func (e *rasterizerUnavailableError) Error() string {
	return "vision: no pdf rasterizer configured, skipping " + e.uri
}

func batchItemMissing(customID string) error {
	return &batchItemMissingError{customID: customID}
}

type batchItemMissingError struct{ customID string }

func (e *batchItemMissingError) Error() string {
	return "vision: batch result missing for " + e.customID
}

func downscaleIfNeeded(data []byte, kind model.MediaKind, maxBytes int64) ([]byte, string) {
	mediaType := string(kind)
	if mediaType == "" {
		mediaType = "image/png"
	}
	if int64(len(data)) <= maxBytes {
		return data, mediaType
	}
	out, err := downscalePNG(data, maxBytes)
	if err != nil {
		zap.L().Debug("vision: downscale failed, submitting original bytes", zap.Error(err))
		return data, mediaType
	}
	return out, "image/png"
}

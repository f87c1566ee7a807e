// Package orchestrator implements C11, the PhaseOrchestrator: the state
// machine that drives PlacesClient, StructuredMarkupExtractor,
// SitemapAnalyzer, DOMCrawler, VisionProcessor, SelectiveBrowsingExtractor,
// QualityAssessor, Canonicalizer, and StrategicAnalyzer through the four
// gated phases described in spec.md §4.11 and returns one FinalRecord.
package orchestrator

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/restaurant-intel/internal/canonical"
	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/domcrawl"
	"github.com/sells-group/restaurant-intel/internal/httpx"
	"github.com/sells-group/restaurant-intel/internal/markup"
	"github.com/sells-group/restaurant-intel/internal/model"
	"github.com/sells-group/restaurant-intel/internal/quality"
	"github.com/sells-group/restaurant-intel/internal/resilience"
	"github.com/sells-group/restaurant-intel/internal/selective"
	"github.com/sells-group/restaurant-intel/internal/sitemap"
	"github.com/sells-group/restaurant-intel/internal/strategic"
	"github.com/sells-group/restaurant-intel/internal/vision"
	"github.com/sells-group/restaurant-intel/internal/xerrors"
)

const (
	maxHomepageBytes     = 5 * 1024 * 1024
	defaultNearbyRadiusM = 1500
	defaultNearbyKeyword = "restaurant"
	defaultFailureCap    = 4
)

// Orchestrator owns the collaborators every run needs and drives run_extraction.
type Orchestrator struct {
	caps       capability.Bundle
	http       *httpx.Client
	sitemap    *sitemap.Analyzer
	costCalc   *cost.Calculator
	breakers   *resilience.ServiceBreakers
	rasterizer vision.PDFRasterizer
}

// New builds an Orchestrator. rasterizer may be nil; PDF pages are then
// skipped in Phase 3 with a recorded error rather than failing the run.
func New(caps capability.Bundle, httpClient *httpx.Client, costCalc *cost.Calculator, breakers *resilience.ServiceBreakers, rasterizer vision.PDFRasterizer) *Orchestrator {
	if breakers == nil {
		breakers = resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return &Orchestrator{
		caps:       caps,
		http:       httpClient,
		sitemap:    sitemap.New(httpClient),
		costCalc:   costCalc,
		breakers:   breakers,
		rasterizer: rasterizer,
	}
}

// Run drives one full extraction for targetURL. The returned error is
// non-nil only for an InputError raised before any phase starts; every
// other outcome — including an internal panic, recovered here as a
// FatalInternalError — is reported through ExtractionMetadata.OverallStatus
// with a nil error, per spec.md §7's "user-visible behavior" guarantee.
func (o *Orchestrator) Run(ctx context.Context, targetURL string, opts model.Options) (final *model.FinalRecord, analysis *model.StrategicAnalysis, err error) {
	parsed, perr := url.Parse(strings.TrimSpace(targetURL))
	if perr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, nil, xerrors.NewInputError(eris.Errorf("orchestrator: invalid target_url %q", targetURL))
	}

	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID), zap.String("target_url", targetURL))
	startedAt := time.Now()

	meta := &model.ExtractionMetadata{
		RunID:            runID,
		StartedAt:        startedAt,
		PerPhaseCost:     map[int]float64{},
		PerPhaseDuration: map[int]float64{},
	}
	record := model.NewPartialRecord(targetURL)

	defer func() {
		if r := recover(); r != nil {
			log.Error("orchestrator: recovered from panic, reporting overall_status=error", zap.Any("panic", r))
			meta.CompletedAt = time.Now()
			meta.TotalDurationS = meta.CompletedAt.Sub(startedAt).Seconds()
			meta.OverallStatus = model.StatusError
			meta.ErrorMessage = eris.Errorf("orchestrator: internal error: %v", r).Error()
			final = model.EmptyWithMetadata(targetURL, *meta)
			analysis = nil
			err = nil
		}
	}()

	gates := opts.PhaseGates
	if gates == (model.PhaseGates{}) {
		gates = model.DefaultPhaseGates()
	}
	budgets := opts.Budgets
	failureCap := budgets.ConsecutiveFailureCap
	if failureCap <= 0 {
		failureCap = defaultFailureCap
	}

	run := &runState{
		o:              o,
		ctx:            ctx,
		record:         record,
		meta:           meta,
		opts:           opts,
		gates:          gates,
		budgets:        budgets,
		startedAt:      startedAt,
		failureCap:     failureCap,
		log:            log,
	}
	status := run.execute()

	meta.CompletedAt = time.Now()
	meta.TotalDurationS = meta.CompletedAt.Sub(startedAt).Seconds()
	meta.OverallStatus = status
	meta.PhasesCompleted = record.PhasesCompleted
	meta.PhaseErrors = record.Errors
	meta.FinalQualityScore = record.RunningQuality

	if status == model.StatusError {
		return model.EmptyWithMetadata(targetURL, *meta), nil, nil
	}

	canonicalizer := canonical.New(o.caps.LLMText)
	final, canonCost, _ := canonicalizer.Canonicalize(ctx, record)
	meta.TotalCost += canonCost
	final.ExtractionMetadata = *meta
	final.ExtractionMetadata.TotalCost = meta.TotalCost

	if opts.EnableStrategicAnalysis && o.caps.LLMText != nil {
		analyzer := strategic.New(o.caps.LLMText, o.caps.LLMVision, o.caps.Artifact)
		res, _ := analyzer.Analyze(ctx, final, screenshotsOf(final.Artifacts))
		if res != nil {
			if res.Analysis != nil {
				analysis = res.Analysis
			} else {
				final.ExtractionMetadata.Notes = append(final.ExtractionMetadata.Notes, "strategic analysis unavailable")
			}
			meta.TotalCost += res.CostUSD
			final.ExtractionMetadata.TotalCost = meta.TotalCost
		}
	}

	return final, analysis, nil
}

// runState carries the per-run mutable state the gated phase sequence
// reads and updates. It exists so the four phase-gate transitions in
// execute read as a flat sequence instead of deeply nested closures.
type runState struct {
	o          *Orchestrator
	ctx        context.Context
	record     *model.PartialRecord
	meta       *model.ExtractionMetadata
	opts       model.Options
	gates      model.PhaseGates
	budgets    model.Budgets
	startedAt  time.Time
	failureCap int
	log        *zap.Logger

	consecutiveFailures int
}

func (r *runState) cancelled() bool {
	return r.ctx.Err() != nil
}

func (r *runState) budgetExhausted() bool {
	if r.budgets.MaxWallTimeS > 0 && time.Since(r.startedAt).Seconds() >= r.budgets.MaxWallTimeS {
		return true
	}
	if r.budgets.MaxCost > 0 && r.meta.TotalCost >= r.budgets.MaxCost {
		return true
	}
	if r.failureCap > 0 && r.consecutiveFailures >= r.failureCap {
		return true
	}
	return false
}

// notePhaseOutcome tracks the consecutive-failure budget trigger: a phase
// that recorded at least one error since errsBefore extends the streak,
// any phase that recorded none resets it.
func (r *runState) notePhaseOutcome(errsBefore int) {
	if len(r.record.Errors) > errsBefore {
		r.consecutiveFailures++
	} else {
		r.consecutiveFailures = 0
	}
}

func (r *runState) reassess() quality.Assessment {
	a := quality.Assess(r.record)
	r.record.RunningQuality = a.Overall
	return a
}

// execute drives the gated phase sequence and returns the terminal
// overall_status.
func (r *runState) execute() model.OverallStatus {
	errsBefore := len(r.record.Errors)
	sitemapResult := r.o.runPhase1(r.ctx, r.record, r.meta, r.opts)
	r.notePhaseOutcome(errsBefore)
	assessment := r.reassess()

	if r.cancelled() {
		return model.StatusPartial
	}
	if assessment.Overall >= r.gates.T1 {
		return terminalStatus(r)
	}

	errsBefore = len(r.record.Errors)
	r.o.runPhase2(r.ctx, r.record, r.meta, r.opts, sitemapResult)
	r.notePhaseOutcome(errsBefore)
	assessment = r.reassess()

	if r.cancelled() {
		return model.StatusPartial
	}
	if assessment.Overall >= r.gates.T2 || r.budgetExhausted() {
		return terminalStatus(r)
	}

	errsBefore = len(r.record.Errors)
	r.o.runPhase3(r.ctx, r.record, r.meta, r.opts)
	r.notePhaseOutcome(errsBefore)
	assessment = r.reassess()

	if r.cancelled() {
		return model.StatusPartial
	}
	if assessment.Overall >= r.gates.T3 || len(assessment.MissingCriticalFields) == 0 || r.budgetExhausted() {
		return terminalStatus(r)
	}

	errsBefore = len(r.record.Errors)
	r.o.runPhase4(r.ctx, r.record, r.meta, r.opts)
	r.notePhaseOutcome(errsBefore)
	r.reassess()

	return terminalStatus(r)
}

func terminalStatus(r *runState) model.OverallStatus {
	if r.cancelled() {
		return model.StatusPartial
	}
	if len(r.record.Errors) > 0 {
		return model.StatusPartial
	}
	return model.StatusOK
}

func screenshotsOf(artifacts []model.ArtifactRef) []model.ArtifactRef {
	var out []model.ArtifactRef
	for _, ref := range artifacts {
		if ref.MediaKind == model.MediaImagePNG || ref.MediaKind == model.MediaImageJPEG {
			out = append(out, ref)
		}
	}
	return out
}

// classifyComponentError maps a component failure onto the PhaseError
// category vocabulary spec.md §7 names.
func classifyComponentError(err error) string {
	switch {
	case xerrors.IsQuotaError(err):
		return "quota"
	case xerrors.IsParseError(err):
		return "parse"
	case xerrors.IsResourceError(err):
		return "resource"
	case resilience.IsTransient(err):
		return "transient"
	default:
		return "unknown"
	}
}

func wrapHTTPErr(err error, status int) error {
	if err != nil {
		return err
	}
	return eris.Errorf("unexpected status %d", status)
}

// mergeRecord appends every observation, menu item, competitor, artifact,
// and error from src into dst. Merge order across concurrent Phase 1
// extractors is fixed by the call order at each merge site (SourceTag
// enum order), satisfying the deterministic-merge invariant (spec.md §5).
func mergeRecord(dst, src *model.PartialRecord) {
	if src == nil {
		return
	}
	dst.Name.Observations = append(dst.Name.Observations, src.Name.Observations...)
	dst.Address.Observations = append(dst.Address.Observations, src.Address.Observations...)
	dst.Phone.Observations = append(dst.Phone.Observations, src.Phone.Observations...)
	dst.Website.Observations = append(dst.Website.Observations, src.Website.Observations...)
	dst.Hours.Observations = append(dst.Hours.Observations, src.Hours.Observations...)
	dst.Cuisine.Observations = append(dst.Cuisine.Observations, src.Cuisine.Observations...)
	dst.PriceRange.Observations = append(dst.PriceRange.Observations, src.PriceRange.Observations...)
	dst.Rating.Observations = append(dst.Rating.Observations, src.Rating.Observations...)
	dst.ReviewCount.Observations = append(dst.ReviewCount.Observations, src.ReviewCount.Observations...)
	dst.Description.Observations = append(dst.Description.Observations, src.Description.Observations...)
	dst.GeoLat.Observations = append(dst.GeoLat.Observations, src.GeoLat.Observations...)
	dst.GeoLng.Observations = append(dst.GeoLng.Observations, src.GeoLng.Observations...)
	dst.Social.Observations = append(dst.Social.Observations, src.Social.Observations...)
	dst.MenuItems = append(dst.MenuItems, src.MenuItems...)
	dst.Competitors = append(dst.Competitors, src.Competitors...)
	dst.Artifacts = append(dst.Artifacts, src.Artifacts...)
	dst.Errors = append(dst.Errors, src.Errors...)
}

// applyPlaceDetails maps a places-directory record into PartialRecord
// observations tagged SourcePlaces (spec.md §4.2).
func applyPlaceDetails(record *model.PartialRecord, d capability.PlaceDetails, now time.Time) {
	conf := model.SourcePrior[model.SourcePlaces]
	if d.Name != "" {
		record.Name.Append(model.NewRawField(d.Name, model.SourcePlaces, conf, now))
	}
	if d.Address != "" {
		record.Address.Append(model.NewRawField(model.Address{Raw: d.Address}, model.SourcePlaces, conf, now))
	}
	if d.Phone != "" {
		record.Phone.Append(model.NewRawField(model.Phone{Raw: d.Phone}, model.SourcePlaces, conf, now))
	}
	if d.Website != "" {
		record.Website.Append(model.NewRawField(d.Website, model.SourcePlaces, conf, now))
	}
	if d.Hours != "" {
		record.Hours.Append(model.NewRawField(d.Hours, model.SourcePlaces, conf, now))
	}
	if d.PriceLevel != "" {
		record.PriceRange.Append(model.NewRawField(d.PriceLevel, model.SourcePlaces, conf, now))
	}
	if d.Cuisine != "" {
		record.Cuisine.Append(model.NewRawField(d.Cuisine, model.SourcePlaces, conf, now))
	}
	if d.Rating != nil {
		record.Rating.Append(model.NewRawField(*d.Rating, model.SourcePlaces, conf, now))
	}
	if d.ReviewCount != nil {
		record.ReviewCount.Append(model.NewRawField(*d.ReviewCount, model.SourcePlaces, conf, now))
	}
	if d.Lat != nil {
		record.GeoLat.Append(model.NewRawField(*d.Lat, model.SourcePlaces, conf, now))
	}
	if d.Lng != nil {
		record.GeoLng.Append(model.NewRawField(*d.Lng, model.SourcePlaces, conf, now))
	}
}

// runPhase1 fans PlacesClient.lookup+details+nearby, StructuredMarkupExtractor
// (over the homepage), and SitemapAnalyzer out concurrently, then merges
// their results into record in fixed SourceTag order (spec.md §4.11 Phase 1).
func (o *Orchestrator) runPhase1(ctx context.Context, record *model.PartialRecord, meta *model.ExtractionMetadata, opts model.Options) *sitemap.Result {
	start := time.Now()
	var wg sync.WaitGroup

	var placesDetails *capability.PlaceDetails
	var placesCompetitors []model.CompetitorSummary
	var placesCost float64
	var placesErr error

	var markupResult *markup.Result
	var markupErr error

	var sitemapResult *sitemap.Result
	var sitemapErr error

	queryText := strings.TrimSpace(opts.RestaurantNameHint + " " + opts.AddressHint)
	if queryText == "" {
		queryText = record.TargetURL
	}

	if o.caps.Places != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := o.caps.Places.Lookup(ctx, queryText)
			placesCost += o.costCalc.PlacesLookup()
			if err != nil {
				placesErr = err
				return
			}
			if id == nil {
				return
			}
			details, err := o.caps.Places.Details(ctx, *id)
			placesCost += o.costCalc.PlacesDetails()
			if err != nil {
				placesErr = err
				return
			}
			placesDetails = details

			nearby, err := o.caps.Places.Nearby(ctx, *id, defaultNearbyRadiusM, defaultNearbyKeyword)
			placesCost += o.costCalc.PlacesNearby()
			if err != nil {
				placesErr = err
				return
			}
			placesCompetitors = nearby
		}()
	} else {
		placesErr = xerrors.NewResourceError("places", eris.New("no places capability configured"))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		body, status, err := o.http.GetBytes(ctx, record.TargetURL, maxHomepageBytes)
		if err != nil || status >= 400 {
			markupErr = wrapHTTPErr(err, status)
			return
		}
		markupResult = markup.Extract(body, record.TargetURL)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := o.sitemap.Analyze(ctx, record.TargetURL)
		if err != nil {
			sitemapErr = err
			return
		}
		sitemapResult = res
	}()

	wg.Wait()
	now := time.Now()

	if placesErr != nil {
		record.RecordError(1, "places", classifyComponentError(placesErr), placesErr, now)
	}
	if placesDetails != nil {
		applyPlaceDetails(record, *placesDetails, now)
	}
	record.Competitors = append(record.Competitors, placesCompetitors...)

	if markupErr != nil {
		record.RecordError(1, "markup", classifyComponentError(markupErr), markupErr, now)
	}
	if markupResult != nil {
		mergeRecord(record, markupResult.Record)
	}

	if sitemapErr != nil {
		record.RecordError(1, "sitemap", classifyComponentError(sitemapErr), sitemapErr, now)
	}
	for _, serr := range sitemapResultErrors(sitemapResult) {
		record.RecordError(1, "sitemap", classifyComponentError(serr), serr, now)
	}

	meta.PerPhaseCost[1] += placesCost
	meta.PerPhaseDuration[1] += time.Since(start).Seconds()
	meta.TotalCost += placesCost
	record.RunningCost += placesCost
	record.MarkPhaseComplete(1)
	return sitemapResult
}

func sitemapResultErrors(res *sitemap.Result) []error {
	if res == nil {
		return nil
	}
	return res.Errors
}

// runPhase2 runs DOMCrawler seeded with Phase 1's classified sitemap
// URLs, merges the crawled observations and artifacts, and re-extracts
// structured markup from any pages the crawler found structurally sparse
// (spec.md §4.5's "raw HTML by URL" contract feeding back into C3).
func (o *Orchestrator) runPhase2(ctx context.Context, record *model.PartialRecord, meta *model.ExtractionMetadata, opts model.Options, sitemapResult *sitemap.Result) {
	now := time.Now()
	if o.caps.Browser == nil {
		record.RecordError(2, "domcrawl", "resource", xerrors.NewResourceError("browser", eris.New("no browser capability configured")), now)
		record.MarkPhaseComplete(2)
		return
	}

	start := time.Now()
	var priorityPaths []sitemap.ClassifiedURL
	if sitemapResult != nil {
		priorityPaths = sitemapResult.URLs
	}

	crawler := domcrawl.New(o.caps.Browser, o.caps.Artifact, o.costCalc, opts.Crawler)
	hints := domcrawl.Hints{Name: opts.RestaurantNameHint, Address: opts.AddressHint}
	res := crawler.Run(ctx, record.TargetURL, priorityPaths, hints)

	mergeRecord(record, res.Record)
	record.Artifacts = append(record.Artifacts, res.Artifacts...)

	for pageURL, html := range res.HTMLByURL {
		mr := markup.Extract([]byte(html), pageURL)
		mergeRecord(record, mr.Record)
	}

	now = time.Now()
	for _, cerr := range res.Errors {
		record.RecordError(2, "domcrawl", classifyComponentError(cerr), cerr, now)
	}

	meta.PerPhaseCost[2] += res.CostUSD
	meta.TotalCost += res.CostUSD
	meta.PerPhaseDuration[2] += time.Since(start).Seconds()
	record.RunningCost += res.CostUSD
	record.MarkPhaseComplete(2)
}

// runPhase3 runs VisionProcessor over the screenshots and PDFs collected
// so far, merging menu items and vision-derived context notes (spec.md §4.6).
func (o *Orchestrator) runPhase3(ctx context.Context, record *model.PartialRecord, meta *model.ExtractionMetadata, opts model.Options) {
	if o.caps.LLMVision == nil || o.caps.Artifact == nil {
		record.RecordError(3, "vision", "resource", xerrors.NewResourceError("vision", eris.New("no vision capability configured")), time.Now())
		record.MarkPhaseComplete(3)
		return
	}

	start := time.Now()
	var screenshots, pdfs []model.ArtifactRef
	for _, ref := range record.Artifacts {
		switch ref.MediaKind {
		case model.MediaImagePNG, model.MediaImageJPEG:
			screenshots = append(screenshots, ref)
		case model.MediaPDF:
			pdfs = append(pdfs, ref)
		}
	}

	processor := vision.New(o.caps.LLMVision, o.caps.Artifact, o.rasterizer, o.costCalc, opts.Vision)
	res := processor.Process(ctx, screenshots, pdfs)

	now := time.Now()
	record.MenuItems = append(record.MenuItems, res.MenuItems...)
	for _, note := range res.ContextNotes {
		record.Description.Append(model.NewRawField("menu_text:"+note, model.SourceVision, model.SourcePrior[model.SourceVision]*0.5, now))
	}
	record.Artifacts = append(record.Artifacts, res.NewArtifacts...)
	for _, verr := range res.Errors {
		record.RecordError(3, "vision", classifyComponentError(verr), verr, now)
	}

	meta.PerPhaseCost[3] += res.CostUSD
	meta.TotalCost += res.CostUSD
	meta.PerPhaseDuration[3] += time.Since(start).Seconds()
	record.RunningCost += res.CostUSD
	record.MarkPhaseComplete(3)
}

// runPhase4 computes missing_critical_fields via QualityAssessor and, if
// nonempty, invokes SelectiveBrowsingExtractor to target just those
// fields (spec.md §4.7, §4.11 Phase 4).
func (o *Orchestrator) runPhase4(ctx context.Context, record *model.PartialRecord, meta *model.ExtractionMetadata, opts model.Options) {
	start := time.Now()
	assessment := quality.Assess(record)
	record.RunningQuality = assessment.Overall

	if !opts.SelectiveBrowsing.Enabled || len(assessment.MissingCriticalFields) == 0 || o.caps.AgenticBrowser == nil {
		meta.PerPhaseDuration[4] += time.Since(start).Seconds()
		record.MarkPhaseComplete(4)
		return
	}

	extractor := selective.New(o.caps.AgenticBrowser, o.caps.Artifact)
	hints := map[string]string{}
	if opts.RestaurantNameHint != "" {
		hints["name"] = opts.RestaurantNameHint
	}
	if opts.AddressHint != "" {
		hints["address"] = opts.AddressHint
	}

	res, err := extractor.Run(ctx, record, assessment.MissingCriticalFields, hints)
	now := time.Now()
	if err != nil {
		record.RecordError(4, "selective", classifyComponentError(err), err, now)
	}
	if res != nil {
		meta.PerPhaseCost[4] += res.CostUSD
		meta.TotalCost += res.CostUSD
		record.RunningCost += res.CostUSD
	}

	meta.PerPhaseDuration[4] += time.Since(start).Seconds()
	record.MarkPhaseComplete(4)
}

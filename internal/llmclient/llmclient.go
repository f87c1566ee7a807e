// Package llmclient adapts pkg/anthropic.Client to the narrow
// capability.LLMText and capability.LLMVision contracts the orchestrator
// depends on, so components never import the SDK directly (spec.md §9:
// "Global module state and ad-hoc clients" → explicit dependency
// injection through narrow interfaces).
package llmclient

import (
	"context"
	"encoding/base64"

	"github.com/rotisserie/eris"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/resilience"
	"github.com/sells-group/restaurant-intel/pkg/anthropic"
)

// Text wraps pkg/anthropic.Client as a capability.LLMText for text-only
// JSON-mode completions (C9 ambiguous canonicalization, C10 strategic
// analysis prompts).
type Text struct {
	client   anthropic.Client
	model    string
	costCalc *cost.Calculator
	breaker  *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// NewText builds a Text adapter for the given model.
func NewText(client anthropic.Client, model string, costCalc *cost.Calculator, breaker *resilience.CircuitBreaker, retryCfg resilience.RetryConfig) *Text {
	return &Text{client: client, model: model, costCalc: costCalc, breaker: breaker, retryCfg: retryCfg}
}

var _ capability.LLMText = (*Text)(nil)

// Complete issues a single-turn completion with system+prompt, returning
// the model's text and an estimated cost.
func (t *Text) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, float64, error) {
	resp, err := resilience.ExecuteVal(ctx, t.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, t.retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return t.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     t.model,
				MaxTokens: int64(maxTokens),
				System:    anthropic.BuildCachedSystemBlocks(system),
				Messages:  []anthropic.Message{anthropic.NewTextMessage("user", prompt)},
			})
		})
	})
	if err != nil {
		return "", 0, eris.Wrap(err, "llmclient: text complete")
	}

	text := firstTextBlock(resp.Content)
	c := t.costCalc.Claude(t.model, false, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens),
		int(resp.Usage.CacheCreationInputTokens), int(resp.Usage.CacheReadInputTokens))
	return text, c, nil
}

// Vision wraps pkg/anthropic.Client as a capability.LLMVision for
// multimodal completions over inline images (C6 menu extraction from
// screenshots and rasterized PDF pages).
type Vision struct {
	client   anthropic.Client
	model    string
	costCalc *cost.Calculator
	breaker  *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// NewVision builds a Vision adapter for the given multimodal model.
func NewVision(client anthropic.Client, model string, costCalc *cost.Calculator, breaker *resilience.CircuitBreaker, retryCfg resilience.RetryConfig) *Vision {
	return &Vision{client: client, model: model, costCalc: costCalc, breaker: breaker, retryCfg: retryCfg}
}

var _ capability.LLMVision = (*Vision)(nil)

// CompleteWithImages submits prompt plus inline images to the
// multimodal model and returns the text response and an estimated cost.
func (v *Vision) CompleteWithImages(ctx context.Context, system, prompt string, images []capability.Image, maxTokens int) (string, float64, error) {
	parts := make([]anthropic.ContentPart, 0, len(images))
	for _, img := range images {
		parts = append(parts, anthropic.ContentPart{Type: "image", MediaType: img.MediaType, Data: base64.StdEncoding.EncodeToString(img.Data)})
	}

	resp, err := resilience.ExecuteVal(ctx, v.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, v.retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			msg := anthropic.Message{Role: "user", Parts: append(append([]anthropic.ContentPart{}, parts...), anthropic.ContentPart{Type: "text", Text: prompt})}
			return v.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     v.model,
				MaxTokens: int64(maxTokens),
				System:    anthropic.BuildCachedSystemBlocks(system),
				Messages:  []anthropic.Message{msg},
			})
		})
	})
	if err != nil {
		return "", 0, eris.Wrap(err, "llmclient: vision complete")
	}

	text := firstTextBlock(resp.Content)
	c := v.costCalc.Claude(v.model, false, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens),
		int(resp.Usage.CacheCreationInputTokens), int(resp.Usage.CacheReadInputTokens))
	return text, c, nil
}

var _ capability.LLMVisionBatch = (*Vision)(nil)

// CompleteImagesBatch submits every item as one Anthropic Batches-API
// request. It first sends a primer request to warm the shared system
// prompt in cache (pkg/anthropic.PrimerRequest paired with
// BuildCachedSystemBlocks), then creates the batch, polls it to
// completion, and collects results keyed by custom_id
// (pkg/anthropic.CreateBatch/PollBatch/CollectBatchResultsDetailed) — the
// batched counterpart to CompleteWithImages that VisionProcessor reaches
// for once it has more than one image queued (spec.md §1's cost-aware
// framing).
func (v *Vision) CompleteImagesBatch(ctx context.Context, system string, items []capability.BatchImageItem, maxTokens int) (map[string]string, float64, error) {
	if len(items) == 0 {
		return nil, 0, nil
	}

	systemBlocks := anthropic.BuildCachedSystemBlocks(system)
	var totalCost float64

	primerReq := anthropic.MessageRequest{
		Model:     v.model,
		MaxTokens: int64(maxTokens),
		System:    systemBlocks,
		Messages:  []anthropic.Message{toImageMessage(items[0])},
	}
	primerResp, err := resilience.ExecuteVal(ctx, v.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, v.retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return anthropic.PrimerRequest(ctx, v.client, primerReq)
		})
	})
	if err != nil {
		return nil, 0, eris.Wrap(err, "llmclient: prime vision batch cache")
	}
	totalCost += v.costCalc.Claude(v.model, false, int(primerResp.Usage.InputTokens), int(primerResp.Usage.OutputTokens),
		int(primerResp.Usage.CacheCreationInputTokens), int(primerResp.Usage.CacheReadInputTokens))

	reqs := make([]anthropic.BatchRequestItem, len(items))
	for i, it := range items {
		reqs[i] = anthropic.BatchRequestItem{
			CustomID: it.CustomID,
			Params: anthropic.MessageRequest{
				Model:     v.model,
				MaxTokens: int64(maxTokens),
				System:    systemBlocks,
				Messages:  []anthropic.Message{toImageMessage(it)},
			},
		}
	}

	batch, err := resilience.ExecuteVal(ctx, v.breaker, func(ctx context.Context) (*anthropic.BatchResponse, error) {
		return resilience.DoVal(ctx, v.retryCfg, func(ctx context.Context) (*anthropic.BatchResponse, error) {
			return v.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: reqs})
		})
	})
	if err != nil {
		return nil, totalCost, eris.Wrap(err, "llmclient: create vision batch")
	}

	final, err := anthropic.PollBatch(ctx, v.client, batch.ID)
	if err != nil {
		return nil, totalCost, eris.Wrap(err, "llmclient: poll vision batch")
	}

	iter, err := v.client.GetBatchResults(ctx, final.ID)
	if err != nil {
		return nil, totalCost, eris.Wrap(err, "llmclient: get vision batch results")
	}
	collected, err := anthropic.CollectBatchResultsDetailed(iter)
	if err != nil {
		return nil, totalCost, eris.Wrap(err, "llmclient: collect vision batch results")
	}

	texts := make(map[string]string, len(collected.Succeeded))
	for customID, msg := range collected.Succeeded {
		texts[customID] = firstTextBlock(msg.Content)
		totalCost += v.costCalc.Claude(v.model, true, int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens),
			int(msg.Usage.CacheCreationInputTokens), int(msg.Usage.CacheReadInputTokens))
	}
	return texts, totalCost, nil
}

func toImageMessage(item capability.BatchImageItem) anthropic.Message {
	parts := make([]anthropic.ContentPart, 0, len(item.Images)+1)
	for _, img := range item.Images {
		parts = append(parts, anthropic.ContentPart{Type: "image", MediaType: img.MediaType, Data: base64.StdEncoding.EncodeToString(img.Data)})
	}
	parts = append(parts, anthropic.ContentPart{Type: "text", Text: item.Prompt})
	return anthropic.Message{Role: "user", Parts: parts}
}

func firstTextBlock(blocks []anthropic.ContentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}


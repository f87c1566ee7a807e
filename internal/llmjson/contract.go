// Package llmjson implements the LLM JSON contract layer spec.md §1(d)
// names as one of the four hard engineering pieces: it coerces free-form
// model output into validated schemas with retries. Every LLM call the
// Canonicalizer (C9) and StrategicAnalyzer (C10) make for ambiguous or
// schema-validated output goes through Call, never through ad-hoc
// string munging (spec.md §9: "Dynamic typing for LLM I/O" is replaced
// with tagged-variant results and schema-validated parsing).
package llmjson

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/resilience"
	"github.com/sells-group/restaurant-intel/internal/xerrors"
)

// DefaultMaxAttempts is the retry cap spec.md §4.9 names for the LLM
// contract: "retry with exponential backoff on parse failure, up to 3
// attempts; on terminal failure, leave the canonical form empty."
const DefaultMaxAttempts = 3

// Result is the yield of one Call: the parsed value (if parsing
// succeeded at any attempt) and the cost summed across every attempt.
// Terminal failure is reported through Call's separate error return.
type Result[T any] struct {
	Value T
	Cost  float64
}

// Call issues system+prompt to llm, parsing the response as JSON into T.
// On a malformed response, it retries with a narrower repair prompt that
// includes the previous bad output, up to DefaultMaxAttempts times. On
// terminal failure it returns an *xerrors.ParseError wrapping the last
// raw text, so the caller can leave the canonical field empty while
// still recording the raw observation (spec.md §4.9 / §7 ParseError).
func Call[T any](ctx context.Context, llm capability.LLMText, component, system, prompt string, maxTokens int) (Result[T], error) {
	var zero Result[T]
	var lastRaw string
	var totalCost float64

	cfg := resilience.RetryConfig{
		MaxAttempts:    DefaultMaxAttempts,
		ShouldRetry:    func(error) bool { return true },
		JitterFraction: 0.25,
	}

	currentPrompt := prompt
	value, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		text, cost, err := llm.Complete(ctx, system, currentPrompt, maxTokens)
		totalCost += cost
		if err != nil {
			return zero.Value, eris.Wrapf(err, "%s: llm call failed", component)
		}
		lastRaw = text

		var out T
		if perr := parseJSON(text, &out); perr != nil {
			currentPrompt = repairPrompt(prompt, text, perr)
			return zero.Value, perr
		}
		return out, nil
	})

	if err != nil {
		return Result[T]{Cost: totalCost}, xerrors.NewParseError(component, lastRaw, err)
	}
	return Result[T]{Value: value, Cost: totalCost}, nil
}

// CallWithImages is Call's multimodal counterpart: it submits the same
// images on every retry attempt (only the prompt narrows), used by the
// VisionProcessor's per-screenshot and per-PDF-page menu extraction
// (spec.md §4.6).
func CallWithImages[T any](ctx context.Context, llm capability.LLMVision, component, system, prompt string, images []capability.Image, maxTokens int) (Result[T], error) {
	var zero Result[T]
	var lastRaw string
	var totalCost float64

	cfg := resilience.RetryConfig{
		MaxAttempts:    DefaultMaxAttempts,
		ShouldRetry:    func(error) bool { return true },
		JitterFraction: 0.25,
	}

	currentPrompt := prompt
	value, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		text, cost, err := llm.CompleteWithImages(ctx, system, currentPrompt, images, maxTokens)
		totalCost += cost
		if err != nil {
			return zero.Value, eris.Wrapf(err, "%s: vision llm call failed", component)
		}
		lastRaw = text

		var out T
		if perr := parseJSON(text, &out); perr != nil {
			currentPrompt = repairPrompt(prompt, text, perr)
			return zero.Value, perr
		}
		return out, nil
	})

	if err != nil {
		return Result[T]{Cost: totalCost}, xerrors.NewParseError(component, lastRaw, err)
	}
	return Result[T]{Value: value, Cost: totalCost}, nil
}

// DecodeJSON parses text into T using the same tolerant JSON extraction
// Call and CallWithImages use, but without their retry-with-repair-prompt
// loop. Batch-style callers get one LLM response per item with no
// opportunity for a follow-up turn, so a malformed response becomes one
// isolated item failure (spec.md §4.6's per-artifact error isolation)
// rather than a repair round trip.
func DecodeJSON[T any](component, text string) (T, error) {
	var out T
	if err := parseJSON(text, &out); err != nil {
		return out, xerrors.NewParseError(component, text, err)
	}
	return out, nil
}

// parseJSON extracts the first top-level JSON object or array from text
// (tolerating markdown code fences and leading/trailing prose, which
// LLMs routinely add despite JSON-mode instructions) and decodes it
// into out.
func parseJSON(text string, out any) error {
	body := extractJSONBody(text)
	if body == "" {
		return eris.New("llmjson: no JSON object found in response")
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		// Retry decode tolerating unknown fields: models often add
		// commentary fields alongside the requested schema.
		dec2 := json.NewDecoder(strings.NewReader(body))
		if err2 := dec2.Decode(out); err2 != nil {
			return eris.Wrap(err, "llmjson: decode")
		}
	}
	return nil
}

// extractJSONBody strips ``` fences and returns the substring spanning
// the first '{' or '[' through its matching close, by brace/bracket
// depth counting (not regex — nested braces inside string values would
// break a naive regex match).
func extractJSONBody(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := -1
	var open, close byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			open = text[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}

// repairPrompt builds a narrower follow-up prompt for a schema-violation
// retry. Call and CallWithImages send it after every failed parse, so a
// call makes up to DefaultMaxAttempts-1 repair attempts; there is no
// single-repair mode.
func repairPrompt(original, badOutput string, parseErr error) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n\nYour previous response could not be parsed as valid JSON matching the required schema.\n")
	sb.WriteString("Previous response:\n")
	sb.WriteString(badOutput)
	sb.WriteString("\n\nParse error: ")
	sb.WriteString(parseErr.Error())
	sb.WriteString("\n\nRespond again with ONLY the corrected JSON, no commentary, no markdown fences.")
	return sb.String()
}

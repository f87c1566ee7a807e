package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/restaurant-intel/internal/capability"
	"github.com/sells-group/restaurant-intel/internal/cost"
	"github.com/sells-group/restaurant-intel/internal/resilience"
	"github.com/sells-group/restaurant-intel/pkg/anthropic"
)

func TestText_Complete(t *testing.T) {
	mockClient := &anthropic.MockClient{}
	mockClient.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: `{"hours":"Mon-Fri 9-5"}`}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}, nil)

	text := NewText(mockClient, "claude-haiku-4-5-20251001", cost.NewCalculator(cost.DefaultRates()),
		resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()), resilience.DefaultRetryConfig())

	out, c, err := text.Complete(context.Background(), "system", "prompt", 100)
	require.NoError(t, err)
	assert.Equal(t, `{"hours":"Mon-Fri 9-5"}`, out)
	assert.Greater(t, c, 0.0)
}

func TestVision_CompleteWithImages(t *testing.T) {
	mockClient := &anthropic.MockClient{}
	mockClient.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: `[{"name":"Pizza"}]`}},
		Usage:   anthropic.TokenUsage{InputTokens: 500, OutputTokens: 50},
	}, nil)

	vision := NewVision(mockClient, "claude-sonnet-4-5-20250929", cost.NewCalculator(cost.DefaultRates()),
		resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()), resilience.DefaultRetryConfig())

	out, c, err := vision.CompleteWithImages(context.Background(), "system", "extract menu", []capability.Image{
		{MediaType: "image/png", Data: []byte{1, 2, 3}},
	}, 200)
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"Pizza"}]`, out)
	assert.Greater(t, c, 0.0)
}

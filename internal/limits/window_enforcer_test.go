package limits

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRequestAllowedPermitsWithinLimit(t *testing.T) {
	e := NewWindowEnforcer(WindowConfig{Limits: []WindowLimit{
		{Window: WindowMinute, MaxRequests: 5, MaxTokens: 1000},
	}})

	allowed, err := e.CheckRequestAllowed(context.Background(), "openai", "gpt-4", TokenUsage{InputTokens: 10}, CostBreakdown{}, "alice")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCheckRequestAllowedDeniesOverRequestLimit(t *testing.T) {
	e := NewWindowEnforcer(WindowConfig{Limits: []WindowLimit{
		{Window: WindowMinute, MaxRequests: 1, MaxTokens: 100000},
	}})

	_, err := e.CheckRequestAllowed(context.Background(), "openai", "gpt-4", TokenUsage{}, CostBreakdown{}, "alice")
	require.NoError(t, err)

	allowed, err := e.CheckRequestAllowed(context.Background(), "openai", "gpt-4", TokenUsage{}, CostBreakdown{}, "alice")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestCheckRequestAllowedTracksKeysIndependently(t *testing.T) {
	e := NewWindowEnforcer(WindowConfig{Limits: []WindowLimit{
		{Window: WindowMinute, MaxRequests: 1, MaxTokens: 100000},
	}})

	_, err := e.CheckRequestAllowed(context.Background(), "openai", "gpt-4", TokenUsage{}, CostBreakdown{}, "alice")
	require.NoError(t, err)

	allowed, err := e.CheckRequestAllowed(context.Background(), "openai", "gpt-4", TokenUsage{}, CostBreakdown{}, "bob")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRecordUsageValidatesProviderAndModel(t *testing.T) {
	e := NewWindowEnforcer(WindowConfig{})
	err := e.RecordUsage(context.Background(), "", "", TokenUsage{}, CostBreakdown{}, "alice")
	assert.Error(t, err)
}

func TestTokenUsageTotal(t *testing.T) {
	u := TokenUsage{InputTokens: 3, OutputTokens: 4}
	assert.Equal(t, 7, u.Total())
}

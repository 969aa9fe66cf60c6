package summary

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medinotes/pkg/logging"
)

func TestFallbackLLMClient(t *testing.T) {
	logger := logging.New("error")

	t.Run("primary succeeds", func(t *testing.T) {
		primary := &fakeLLM{chunks: textChunks("a", "b")}
		fallback := &fakeLLM{chunks: textChunks("z")}
		ch, err := NewFallbackLLMClient(primary, fallback, logger).CompleteStream(context.Background(), LLMRequest{})
		require.NoError(t, err)
		text, last := collect(t, ch)
		assert.Equal(t, "ab", text)
		assert.False(t, last.Fallback)
		assert.Empty(t, fallback.requests())
	})

	t.Run("primary open fails", func(t *testing.T) {
		primary := &fakeLLM{err: errors.New("throttled")}
		fallback := &fakeLLM{chunks: textChunks("z")}
		ch, err := NewFallbackLLMClient(primary, fallback, logger).CompleteStream(context.Background(), LLMRequest{})
		require.NoError(t, err)
		text, last := collect(t, ch)
		assert.Equal(t, "z", text)
		assert.True(t, last.Fallback)
	})

	t.Run("primary fails before first fragment", func(t *testing.T) {
		primary := &fakeLLM{chunks: []StreamChunk{{Error: errors.New("overloaded"), Done: true}}}
		fallback := &fakeLLM{chunks: textChunks("z")}
		ch, err := NewFallbackLLMClient(primary, fallback, logger).CompleteStream(context.Background(), LLMRequest{})
		require.NoError(t, err)
		text, _ := collect(t, ch)
		assert.Equal(t, "z", text)
		assert.Len(t, fallback.requests(), 1)
	})

	t.Run("primary fails mid stream", func(t *testing.T) {
		primary := &fakeLLM{chunks: []StreamChunk{{Text: "part"}, {Error: errors.New("reset"), Done: true}}}
		fallback := &fakeLLM{chunks: textChunks("z")}
		ch, err := NewFallbackLLMClient(primary, fallback, logger).CompleteStream(context.Background(), LLMRequest{})
		require.NoError(t, err)
		text, last := collect(t, ch)
		assert.Equal(t, "part", text)
		assert.EqualError(t, last.Error, "reset")
		assert.Empty(t, fallback.requests())
	})

	t.Run("both fail", func(t *testing.T) {
		primary := &fakeLLM{err: errors.New("primary down")}
		fallback := &fakeLLM{err: errors.New("fallback down")}
		_, err := NewFallbackLLMClient(primary, fallback, logger).CompleteStream(context.Background(), LLMRequest{})
		assert.EqualError(t, err, "fallback down")
	})

	t.Run("no fallback configured", func(t *testing.T) {
		primary := &fakeLLM{err: errors.New("primary down")}
		_, err := NewFallbackLLMClient(primary, nil, logger).CompleteStream(context.Background(), LLMRequest{})
		assert.EqualError(t, err, "primary down")
	})
}

func TestWithModelOverridesRequestModel(t *testing.T) {
	inner := &fakeLLM{chunks: textChunks("ok")}
	client := WithModel(inner, "anthropic.claude-3-haiku")

	_, err := client.CompleteStream(context.Background(), LLMRequest{Model: "gpt-5-nano"})
	require.NoError(t, err)
	require.Len(t, inner.requests(), 1)
	assert.Equal(t, "anthropic.claude-3-haiku", inner.requests()[0].Model)

	assert.Same(t, inner, WithModel(inner, "").(*fakeLLM))
}

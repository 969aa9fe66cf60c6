package summary

import (
	"context"

	"github.com/wolfman30/medinotes/pkg/logging"
)

// FallbackLLMClient wraps a primary streaming client with a fallback
// provider. The fallback is only tried before the primary has produced a
// fragment.
type FallbackLLMClient struct {
	primary  StreamingLLMClient
	fallback StreamingLLMClient
	logger   *logging.Logger
}

// NewFallbackLLMClient creates a new fallback-enabled client. If fallback is
// nil, the client only uses the primary provider.
func NewFallbackLLMClient(primary, fallback StreamingLLMClient, logger *logging.Logger) *FallbackLLMClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackLLMClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	chunks, err := c.primary.CompleteStream(ctx, req)
	if err != nil {
		c.logger.Warn("primary LLM failed, attempting fallback",
			"error", err.Error(),
			"fallback_available", c.fallback != nil,
		)
		return c.tryFallback(ctx, req, err)
	}
	if c.fallback == nil {
		return chunks, nil
	}

	var first StreamChunk
	var ok bool
	select {
	case first, ok = <-chunks:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if ok && first.Error != nil && first.Text == "" {
		c.logger.Warn("primary LLM stream failed before first fragment, attempting fallback",
			"error", first.Error.Error(),
		)
		return c.tryFallback(ctx, req, first.Error)
	}

	out := make(chan StreamChunk, 32)
	go func() {
		defer close(out)
		if !ok {
			return
		}
		if !send(ctx, out, first) {
			return
		}
		for chunk := range chunks {
			if !send(ctx, out, chunk) {
				return
			}
		}
	}()
	return out, nil
}

func (c *FallbackLLMClient) tryFallback(ctx context.Context, req LLMRequest, primaryErr error) (<-chan StreamChunk, error) {
	if c.fallback == nil {
		return nil, primaryErr
	}
	chunks, err := c.fallback.CompleteStream(ctx, req)
	if err != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", primaryErr.Error(),
			"fallback_error", err.Error(),
		)
		return nil, err
	}

	out := make(chan StreamChunk, 32)
	go func() {
		defer close(out)
		for chunk := range chunks {
			chunk.Fallback = true
			if !send(ctx, out, chunk) {
				return
			}
		}
	}()
	c.logger.Info("fallback LLM stream opened after primary failure")
	return out, nil
}

package summary

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is a provider-neutral chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type LLMRequest struct {
	Model    string
	System   []string
	Messages []ChatMessage
	// MaxTokens of zero leaves the provider default.
	MaxTokens int32
	// Temperature below zero is omitted from the request.
	Temperature float32
}

// StreamChunk is one item on a completion stream. Text chunks arrive in
// order; the last chunk has Done set and carries either Usage or Error.
type StreamChunk struct {
	Text     string
	Usage    TokenUsage
	Done     bool
	Error    error
	Fallback bool
}

// StreamingLLMClient opens a streamed completion. The returned channel is
// closed after the Done chunk, or early when ctx is cancelled.
type StreamingLLMClient interface {
	CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error)
}

// send delivers chunk unless ctx is done first.
func send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

type pinnedModelClient struct {
	next  StreamingLLMClient
	model string
}

// WithModel overrides req.Model on every call. Providers in a fallback chain
// each need their own model identifier.
func WithModel(next StreamingLLMClient, model string) StreamingLLMClient {
	if model == "" {
		return next
	}
	return pinnedModelClient{next: next, model: model}
}

func (c pinnedModelClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	req.Model = c.model
	return c.next.CompleteStream(ctx, req)
}

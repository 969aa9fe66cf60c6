package summary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type openAIStreamAPI interface {
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// OpenAILLMClient streams chat completions from the OpenAI API.
type OpenAILLMClient struct {
	api openAIStreamAPI
}

// NewOpenAILLMClient builds a client for apiKey. baseURL overrides the API
// root for proxies and tests.
func NewOpenAILLMClient(apiKey, baseURL string) (*OpenAILLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("summary: openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAILLMClient{api: openai.NewClientWithConfig(cfg)}, nil
}

func (c *OpenAILLMClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("summary: openai model is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.System)+len(req.Messages))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: block})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case ChatRoleSystem, ChatRoleUser, ChatRoleAssistant:
			messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content})
		default:
			return nil, fmt.Errorf("summary: unsupported role %q", msg.Role)
		}
	}

	request := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	// Reasoning models reject max_tokens and any non-default temperature,
	// and this client version cannot send max_completion_tokens, so both
	// are left to the model's defaults there.
	if !reasoningModel(req.Model) {
		if req.MaxTokens > 0 {
			request.MaxTokens = int(req.MaxTokens)
		}
		if req.Temperature >= 0 {
			request.Temperature = req.Temperature
		}
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("summary: openai stream: %w", err)
	}

	chunks := make(chan StreamChunk, 32)
	go func() {
		defer close(chunks)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				send(ctx, chunks, StreamChunk{Done: true})
				return
			}
			if err != nil {
				send(ctx, chunks, StreamChunk{Error: err, Done: true})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				if !send(ctx, chunks, StreamChunk{Text: text}) {
					return
				}
			}
		}
	}()
	return chunks, nil
}

func reasoningModel(model string) bool {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range []string{"gpt-5", "o1", "o3", "o4"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

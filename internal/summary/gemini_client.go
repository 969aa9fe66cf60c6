package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiLLMClient streams completions from Google's Gemini API.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
}

func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("summary: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("summary: failed to create gemini client: %w", err)
	}
	return &GeminiLLMClient{client: client, modelID: modelID}, nil
}

// CompleteStream uses the configured model; req.Model is ignored so the
// fallback path can share one request.
func (c *GeminiLLMClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	model := c.client.GenerativeModel(c.modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if systemText := strings.TrimSpace(strings.Join(req.System, "\n\n")); systemText != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
	}

	var parts []genai.Part
	for _, msg := range req.Messages {
		if msg.Role == ChatRoleUser && strings.TrimSpace(msg.Content) != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	if len(parts) == 0 {
		return nil, errors.New("summary: gemini requires at least one user message")
	}

	iter := model.GenerateContentStream(ctx, parts...)
	chunks := make(chan StreamChunk, 32)
	go func() {
		defer close(chunks)

		var usage TokenUsage
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				send(ctx, chunks, StreamChunk{Done: true, Usage: usage})
				return
			}
			if err != nil {
				send(ctx, chunks, StreamChunk{Error: fmt.Errorf("summary: gemini stream: %w", err), Done: true})
				return
			}
			if resp.UsageMetadata != nil {
				usage = TokenUsage{
					InputTokens:  resp.UsageMetadata.PromptTokenCount,
					OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
					TotalTokens:  resp.UsageMetadata.TotalTokenCount,
				}
			}
			if text := candidateText(resp); text != "" {
				if !send(ctx, chunks, StreamChunk{Text: text}) {
					return
				}
			}
		}
	}()
	return chunks, nil
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}

// Close releases resources held by the Gemini client.
func (c *GeminiLLMClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

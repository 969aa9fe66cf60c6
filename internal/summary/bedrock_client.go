package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockLLMClient streams completions through Bedrock's ConverseStream API.
type BedrockLLMClient struct {
	api bedrockConverseStreamAPI
}

func NewBedrockLLMClient(api bedrockConverseStreamAPI) *BedrockLLMClient {
	if api == nil {
		panic("summary: bedrock converse client cannot be nil")
	}
	return &BedrockLLMClient{api: api}
}

// CompleteStream returns a channel that emits partial text chunks as they
// arrive.
func (c *BedrockLLMClient) CompleteStream(ctx context.Context, req LLMRequest) (<-chan StreamChunk, error) {
	input, err := buildConverseStreamInput(req)
	if err != nil {
		return nil, err
	}

	out, err := c.api.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("summary: bedrock stream: %w", err)
	}

	chunks := make(chan StreamChunk, 32)
	go func() {
		defer close(chunks)

		stream := out.GetStream()
		if stream == nil {
			send(ctx, chunks, StreamChunk{Error: errors.New("summary: bedrock stream is nil"), Done: true})
			return
		}
		defer stream.Close()

		var usage TokenUsage
		for event := range stream.Events() {
			switch v := event.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				if textDelta, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok && textDelta.Value != "" {
					if !send(ctx, chunks, StreamChunk{Text: textDelta.Value}) {
						return
					}
				}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					usage = TokenUsage{
						InputTokens:  int32OrZero(v.Value.Usage.InputTokens),
						OutputTokens: int32OrZero(v.Value.Usage.OutputTokens),
						TotalTokens:  int32OrZero(v.Value.Usage.TotalTokens),
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, chunks, StreamChunk{Error: err, Done: true})
			return
		}
		send(ctx, chunks, StreamChunk{Done: true, Usage: usage})
	}()

	return chunks, nil
}

func buildConverseStreamInput(req LLMRequest) (*bedrockruntime.ConverseStreamInput, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("summary: bedrock model id is required")
	}

	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case ChatRoleSystem:
			systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: content})
		case ChatRoleUser:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
			})
		case ChatRoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
			})
		default:
			return nil, fmt.Errorf("summary: unsupported role %q", msg.Role)
		}
	}
	if len(messages) == 0 {
		return nil, errors.New("summary: bedrock requires at least one message")
	}

	inference := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(req.MaxTokens)
	}
	if req.Temperature >= 0 {
		inference.Temperature = aws.Float32(req.Temperature)
	}
	if inference.MaxTokens == nil && inference.Temperature == nil {
		inference = nil
	}

	return &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(req.Model),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: inference,
	}, nil
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

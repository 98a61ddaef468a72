package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const openaiMaxRetries = 3

// OpenAIClient interface for testability
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI implements Provider over the chat completions API
type OpenAI struct {
	client OpenAIClient
	model  string
}

// NewOpenAI creates a new OpenAI provider with the default client
func NewOpenAI(apiKey, model string) *OpenAI {
	return NewOpenAIWithClient(openai.NewClient(apiKey), model)
}

// NewOpenAIWithClient creates a provider with a custom client (useful for testing)
func NewOpenAIWithClient(client OpenAIClient, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

// Name returns the provider name
func (p *OpenAI) Name() string {
	return "openai"
}

// Complete runs one model turn
func (p *OpenAI) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	oReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    buildOpenAIMessages(req),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	for _, t := range req.Tools {
		oReq.Tools = append(oReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	resp, err := p.doWithRetry(ctx, oReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", ErrorCodeUnknown, "no choices in response", nil)
	}

	return parseOpenAIChoice(resp.Choices[0], resp.Usage), nil
}

func (p *OpenAI) doWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < openaiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}

		perr := mapOpenAIError(err)
		if !perr.IsRetryable {
			return openai.ChatCompletionResponse{}, perr
		}
		lastErr = perr
	}
	return openai.ChatCompletionResponse{}, lastErr
}

func mapOpenAIError(err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ErrorCodeUnknown
		switch apiErr.HTTPStatusCode {
		case 401:
			code = ErrorCodeAuthentication
		case 429:
			code = ErrorCodeRateLimit
		case 400:
			code = ErrorCodeInvalidRequest
		default:
			if apiErr.HTTPStatusCode >= 500 {
				code = ErrorCodeServerError
			}
		}
		return &ProviderError{
			Provider:      "openai",
			Code:          code,
			Message:       apiErr.Message,
			StatusCode:    apiErr.HTTPStatusCode,
			IsRetryable:   code == ErrorCodeRateLimit || code == ErrorCodeServerError,
			OriginalError: err,
		}
	}
	return NewProviderError("openai", ErrorCodeTimeout, err.Error(), err)
}

// buildOpenAIMessages flattens block-structured turns into the chat
// completions shape: tool_use becomes assistant tool_calls, tool_result
// becomes a role=tool message answering its call id.
func buildOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		var texts []string
		var toolCalls []openai.ToolCall
		var toolResults []openai.ChatCompletionMessage

		for _, b := range m.Content {
			switch b.Type {
			case "text":
				texts = append(texts, b.Text)
			case "tool_use":
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   b.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			case "tool_result":
				toolResults = append(toolResults, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.Content,
					ToolCallID: b.ToolUseID,
				})
			}
		}

		if len(texts) > 0 || len(toolCalls) > 0 {
			out = append(out, openai.ChatCompletionMessage{
				Role:      m.Role,
				Content:   strings.Join(texts, "\n"),
				ToolCalls: toolCalls,
			})
		}
		out = append(out, toolResults...)
	}
	return out
}

func parseOpenAIChoice(choice openai.ChatCompletionChoice, usage openai.Usage) *Completion {
	var blocks []ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, ContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}

	stopReason := string(choice.FinishReason)
	switch choice.FinishReason {
	case openai.FinishReasonStop:
		stopReason = "end_turn"
	case openai.FinishReasonToolCalls:
		stopReason = "tool_use"
	}

	return &Completion{
		Blocks:     blocks,
		StopReason: stopReason,
		Usage: Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		},
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
)

// OpenAI implements Completer against the OpenAI chat completions API or
// any compatible endpoint.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// OpenAIOption configures OpenAI.
type OpenAIOption func(*openai.ClientConfig, *OpenAI)

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(cfg *openai.ClientConfig, _ *OpenAI) { cfg.BaseURL = url }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(cfg *openai.ClientConfig, _ *OpenAI) { cfg.HTTPClient = c }
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) OpenAIOption {
	return func(_ *openai.ClientConfig, o *OpenAI) { o.model = model }
}

// WithTimeout bounds each completion call. A call that runs past it
// fails with a transient *errors.TimeoutError.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(_ *openai.ClientConfig, o *OpenAI) { o.timeout = d }
}

// NewOpenAI creates a client authenticated with apiKey.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	o := &OpenAI{model: openai.GPT4oMini}
	for _, opt := range opts {
		opt(&cfg, o)
	}
	o.client = openai.NewClientWithConfig(cfg)
	return o
}

// Complete implements Completer. API failures are returned as
// *errors.HTTPError so they can be categorized for retry.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Tools:       toOpenAITools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, o.mapError(ctx, err)
	}

	out := &Response{
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Choices: make([]Choice, 0, len(resp.Choices)),
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, Choice{
			Index:        c.Index,
			Message:      fromOpenAIMessage(c.Message),
			FinishReason: string(c.FinishReason),
		})
	}
	return out, nil
}

const chatEndpoint = "chat/completions"

// mapError converts client failures into categorizable errors. ctx is
// the caller's context; a deadline that fired while it is still live is
// the client's own timeout.
func (o *OpenAI) mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("chat completion: %w", ctxErr)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &tferrors.HTTPError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Endpoint:   chatEndpoint,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &tferrors.HTTPError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    fmt.Sprint(reqErr.Err),
			Endpoint:   chatEndpoint,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &tferrors.TimeoutError{Operation: "chat completion", After: o.timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &tferrors.TimeoutError{Operation: "chat completion", Err: err}
		}
		return tferrors.Transient(err, "chat completion")
	}
	return err
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) Message {
	out := Message{
		Role:       Role(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/c360studio/seminvoke/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI calls the OpenAI chat completions API through the official SDK.
// SDK-level retries are disabled; the invoker owns the retry policy.
type OpenAI struct {
	client openai.Client
}

// OpenAIConfig configures an OpenAI caller.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAI creates an SDK-backed caller.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

// BuildParams converts a call request into SDK parameters.
func BuildParams(req llm.CallRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Structured && req.Schema != nil {
		jsonSchema := openai.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   req.Schema.Name(),
			Schema: req.Schema.Definition(),
		}
		if llm.StrictSchema(req.Schema.Definition()) {
			jsonSchema.Strict = openai.Bool(true)
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: jsonSchema},
		}
	}
	return params
}

// Call implements llm.Caller.
func (o *OpenAI) Call(ctx context.Context, req llm.CallRequest) (*llm.Response, error) {
	completion, err := o.client.Chat.Completions.New(ctx, BuildParams(req))
	if err != nil {
		return nil, classifySDKError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := completion.Choices[0]
	resp := &llm.Response{
		Content: choice.Message.Content,
		Refusal: choice.Message.Refusal,
		Model:   completion.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
		FinishReason: string(choice.FinishReason),
	}
	if req.Structured && json.Valid([]byte(choice.Message.Content)) {
		resp.Structured = json.RawMessage(choice.Message.Content)
	}
	return resp, nil
}

// classifySDKError maps SDK API errors onto the transient/fatal split used
// for plain HTTP responses. Errors without a status are network failures.
func classifySDKError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, fmt.Errorf("openai API error (status %d): %w", apiErr.StatusCode, err))
	}
	return llm.NewTransientError(fmt.Errorf("openai request failed: %w", err))
}

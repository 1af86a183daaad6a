package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "dune-rag/backend/pkg/errors"
	"dune-rag/backend/pkg/logger"
)

// Message roles
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
	RoleTool      = openai.ChatMessageRoleTool
)

// ChatModel is the generative model collaborator: a prompt plus an optional
// tool catalog in, either text or a function-invocation request out.
type ChatModel interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Tool represents a function that can be called by the LLM
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition defines a function that can be called
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Message is one chat message. ToolCalls is set on assistant messages that
// requested a function; ToolCallID is set on the matching tool message.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Request is a single chat completion call
type Request struct {
	Model       string // empty uses the adapter default
	Messages    []Message
	Tools       []Tool
	ToolChoice  string // "none", "auto" or "required"; ignored without Tools
	Temperature float32
	Stop        []string
}

// Response represents the LLM's response
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolCall represents a function call from the LLM
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// LLMAdapter handles communication with an OpenAI-compatible chat API
type LLMAdapter struct {
	client     *openai.Client
	model      string
	maxRetries int
	timeout    time.Duration
	backoff    time.Duration
	logger     *zap.Logger
}

// Option customizes an LLMAdapter
type Option func(*LLMAdapter)

// WithMaxRetries sets the number of attempts per call
func WithMaxRetries(n int) Option {
	return func(a *LLMAdapter) {
		if n > 0 {
			a.maxRetries = n
		}
	}
}

// WithTimeout bounds each individual attempt
func WithTimeout(d time.Duration) Option {
	return func(a *LLMAdapter) { a.timeout = d }
}

// WithBackoff sets the linear backoff step between attempts
func WithBackoff(d time.Duration) Option {
	return func(a *LLMAdapter) { a.backoff = d }
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID string, opts ...Option) *LLMAdapter {
	// OpenAI-compatible gateways often accept any key
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	a := &LLMAdapter{
		client:     openai.NewClientWithConfig(clientConfig(baseURL, apiKey)),
		model:      modelID,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logger.Named("llm"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func clientConfig(baseURL, apiKey string) openai.ClientConfig {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return config
}

// Model returns the default model
func (a *LLMAdapter) Model() string {
	return a.model
}

// Complete sends a chat completion request and returns the parsed response
func (a *LLMAdapter) Complete(ctx context.Context, r Request) (*Response, error) {
	model := r.Model
	if model == "" {
		model = a.model
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(r.Messages),
		Tools:       toOpenAITools(r.Tools),
		Temperature: temperature(r.Temperature),
		Stop:        r.Stop,
	}
	if r.ToolChoice != "" && len(r.Tools) > 0 {
		req.ToolChoice = r.ToolChoice
	}

	var resp openai.ChatCompletionResponse
	var err error
	attempts := 0
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * a.backoff
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil, apperrors.NewContextTimeout("llm completion", a.timeout, ctx.Err())
			case <-time.After(backoff):
			}
		}

		attempts++
		resp, err = a.createChatCompletion(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", model),
		)

		if ctx.Err() != nil {
			return nil, apperrors.NewContextTimeout("llm completion", a.timeout, ctx.Err())
		}
		if !isRetryableStatus(err) {
			break
		}
	}

	if err != nil {
		if apperrors.IsTimeout(err) {
			return nil, apperrors.NewContextTimeout("llm completion", a.timeout, err)
		}
		return nil, apperrors.NewAgentLLMFailed(model, attempts, isRetryableStatus(err), err)
	}

	if len(resp.Choices) == 0 {
		return nil, apperrors.ErrAgentNoResponse
	}

	choice := resp.Choices[0]
	response := &Response{
		Content:   choice.Message.Content,
		ToolCalls: []ToolCall{},
	}

	for _, tc := range choice.Message.ToolCalls {
		args, err := parseJSONArguments(tc.Function.Arguments)
		if err != nil {
			a.logger.Warn("Failed to parse tool call arguments",
				zap.String("tool_id", tc.ID),
				zap.Error(err),
			)
			args = make(map[string]interface{})
		}
		response.ToolCalls = append(response.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	a.logger.Debug("LLM response generated",
		zap.String("model", model),
		zap.Int("tool_calls", len(response.ToolCalls)),
		zap.Bool("has_content", response.Content != ""),
	)

	return response, nil
}

func (a *LLMAdapter) createChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.client.CreateChatCompletion(ctx, req)
}

// temperature keeps an explicit zero on the wire; the client omits 0 and the
// API would fall back to its default of 1.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}
	return out
}

// isRetryableStatus treats rate limits, server errors and transport failures as transient
func isRetryableStatus(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return true
}

// parseJSONArguments parses the JSON string arguments into a map
func parseJSONArguments(jsonStr string) (map[string]interface{}, error) {
	var args map[string]interface{}
	if jsonStr == "" {
		return make(map[string]interface{}), nil
	}

	err := json.Unmarshal([]byte(jsonStr), &args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}

	return args, nil
}

package agent

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"dune-rag/backend/internal/adapter"
	"dune-rag/backend/internal/tools"
	apperrors "dune-rag/backend/pkg/errors"
	"dune-rag/backend/pkg/logger"
)

// ErrEmptyInput is returned when the request carries no question
var ErrEmptyInput = errors.New("input must not be empty")

const systemPrompt = "You are a helpful assistant. Use one of the tools provided to you if necessary."

const agentTemperature = 0.7

// Input is one user request
type Input struct {
	Text      string
	UserID    string
	SessionID string
}

// Options is the per-request configuration
type Options struct {
	Strategy string // retrieval strategy key; empty uses the default
}

// TurnResult represents the result of a single agent turn
type TurnResult struct {
	Output string
	Tool   string // empty when the model answered directly
	Steps  []Step
}

// Orchestrator routes each request to at most one tool and phrases the final
// answer
type Orchestrator struct {
	llm     adapter.ChatModel
	model   string
	tools   map[tools.Kind]tools.Tool
	catalog []adapter.Tool
	logger  *zap.Logger
}

// NewOrchestrator creates a new agent orchestrator over the graph and vector tools
func NewOrchestrator(llm adapter.ChatModel, model string, graphTool, vectorTool tools.Tool) *Orchestrator {
	return &Orchestrator{
		llm:   llm,
		model: model,
		tools: map[tools.Kind]tools.Tool{
			tools.KindGraph:  graphTool,
			tools.KindVector: vectorTool,
		},
		catalog: tools.Catalog(graphTool, vectorTool),
		logger:  logger.Named("agent"),
	}
}

// RunTurn answers one input. The model either replies directly, in which case
// nothing is persisted, or requests one tool whose observation is turned into
// the final answer. Tool failures are returned as-is; the other tool is never
// tried instead.
func (o *Orchestrator) RunTurn(ctx context.Context, in Input, opts Options) (*TurnResult, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, ErrEmptyInput
	}

	o.logger.Debug("Starting agent turn",
		zap.String("user_id", in.UserID),
		zap.String("session_id", in.SessionID),
		zap.String("strategy", opts.Strategy),
	)

	var pad Scratchpad
	resp, err := o.llm.Complete(ctx, adapter.Request{
		Model:       o.model,
		Messages:    o.messages(in, pad),
		Tools:       o.catalog,
		Temperature: agentTemperature,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.ToolCalls) == 0 {
		if resp.Content == "" {
			return nil, apperrors.ErrAgentNoResponse
		}
		o.logger.Info("Answered without a tool", zap.String("user_id", in.UserID))
		return &TurnResult{Output: resp.Content, Steps: []Step{}}, nil
	}

	call := resp.ToolCalls[0]
	if len(resp.ToolCalls) > 1 {
		o.logger.Warn("Model requested several tools, using the first",
			zap.String("tool", call.Name),
			zap.Int("requested", len(resp.ToolCalls)),
		)
	}

	kind, ok := tools.KindOf(call.Name)
	if !ok {
		return nil, apperrors.NewAgentInvalidToolCall(call.Name, "not in the tool catalog")
	}
	if call.ID == "" {
		call.ID = "call_0"
	}

	question := in.Text
	if q, ok := call.Arguments["question"].(string); ok && strings.TrimSpace(q) != "" {
		question = q
	}

	o.logger.Info("Invoking tool",
		zap.String("tool", call.Name),
		zap.String("user_id", in.UserID),
		zap.String("session_id", in.SessionID),
	)

	observation, err := o.tools[kind].Invoke(ctx, tools.Input{
		Question:  question,
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Strategy:  opts.Strategy,
	})
	if err != nil {
		o.logger.Warn("Tool failed", zap.String("tool", call.Name), zap.Error(err))
		return nil, err
	}

	pad = pad.Append(Step{Action: call, Observation: observation})

	return &TurnResult{
		Output: o.finalize(ctx, in, pad, observation),
		Tool:   kind.String(),
		Steps:  pad.Steps(),
	}, nil
}

// finalize asks the model to phrase the answer from the scratchpad. The
// scratchpad replays tool_calls, so the catalog goes along with tool_choice
// "none" and no second tool can be chosen. The tool's turn is already
// persisted at this point, so a failed or empty completion falls back to the
// observation rather than failing the request.
func (o *Orchestrator) finalize(ctx context.Context, in Input, pad Scratchpad, observation string) string {
	resp, err := o.llm.Complete(ctx, adapter.Request{
		Model:       o.model,
		Messages:    o.messages(in, pad),
		Tools:       o.catalog,
		ToolChoice:  "none",
		Temperature: agentTemperature,
	})
	if err != nil {
		o.logger.Warn("Final answer generation failed, returning tool output", zap.Error(err))
		return observation
	}
	if strings.TrimSpace(resp.Content) == "" {
		return observation
	}
	return resp.Content
}

func (o *Orchestrator) messages(in Input, pad Scratchpad) []adapter.Message {
	msgs := []adapter.Message{
		{Role: adapter.RoleSystem, Content: systemPrompt},
		{Role: adapter.RoleUser, Content: in.Text},
	}
	return append(msgs, pad.Messages()...)
}

package agent

import (
	"dune-rag/backend/internal/adapter"
)

// Step is one tool invocation and what it returned
type Step struct {
	Action      adapter.ToolCall
	Observation string
}

// Scratchpad is the agent's record of intermediate steps within one request.
// It is a value: Append returns a new scratchpad and never touches the
// receiver.
type Scratchpad struct {
	steps []Step
}

// Append returns a scratchpad with step added at the end
func (s Scratchpad) Append(step Step) Scratchpad {
	steps := make([]Step, len(s.steps), len(s.steps)+1)
	copy(steps, s.steps)
	return Scratchpad{steps: append(steps, step)}
}

// Steps returns a copy of the recorded steps
func (s Scratchpad) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Len returns the number of steps
func (s Scratchpad) Len() int {
	return len(s.steps)
}

// Messages renders each step as the assistant's function call followed by the
// tool's observation
func (s Scratchpad) Messages() []adapter.Message {
	msgs := make([]adapter.Message, 0, len(s.steps)*2)
	for _, step := range s.steps {
		msgs = append(msgs,
			adapter.Message{Role: adapter.RoleAssistant, ToolCalls: []adapter.ToolCall{step.Action}},
			adapter.Message{Role: adapter.RoleTool, Content: step.Observation, ToolCallID: step.Action.ID},
		)
	}
	return msgs
}

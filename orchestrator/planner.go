package orchestrator

import (
	"context"

	"github.com/lexcodex/mcphub/mcp"
)

// PlanResult is one planner step: free text, plus any tool invocations the
// planner wants before it can continue. No tool calls means the text is the
// terminal answer for this turn.
type PlanResult struct {
	Text      string
	ToolCalls []ToolCallRequest
}

// Planner produces the next step given the conversation so far and the
// tool catalog.
type Planner interface {
	Plan(ctx context.Context, turns []Turn, catalog []mcp.ToolDescriptor) (PlanResult, error)
}

// StreamingPlanner additionally delivers text incrementally while the plan
// is being produced. Sessions prefer it when the planner offers it.
type StreamingPlanner interface {
	Planner
	PlanStream(ctx context.Context, turns []Turn, catalog []mcp.ToolDescriptor, onDelta func(string)) (PlanResult, error)
}

package orchestrator

import (
	"context"
	"time"

	"github.com/lexcodex/mcphub/mcp"
)

// ToolCaller is the slice of a provider client the router needs. The
// supervisor's per-provider clients satisfy it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (mcp.ToolResult, error)
}

// ToolCallRequest is one tool invocation the planner asked for.
type ToolCallRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolCallResult carries a completed invocation back into the conversation.
// Err is the flattened failure message; empty means success.
type ToolCallResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Failed reports whether the call ended in an error.
func (r ToolCallResult) Failed() bool { return r.Err != "" }

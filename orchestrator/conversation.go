package orchestrator

import (
	"fmt"
	"sync"
	"time"
)

// TurnKind labels what a conversation turn carries.
type TurnKind string

const (
	TurnUser       TurnKind = "user"
	TurnPlanner    TurnKind = "planner"
	TurnToolCall   TurnKind = "tool_call"
	TurnToolResult TurnKind = "tool_result"
	TurnError      TurnKind = "error"
)

// Turn is one entry in the conversation log. Exactly one of Text, Call or
// Result is populated depending on Kind.
type Turn struct {
	Kind   TurnKind         `json:"kind"`
	Text   string           `json:"text,omitempty"`
	Call   *ToolCallRequest `json:"call,omitempty"`
	Result *ToolCallResult  `json:"result,omitempty"`
	At     time.Time        `json:"at"`
}

// Conversation is an append-only turn log. A tool result may only be
// appended after the matching tool call, so a replay of the log always
// shows causes before effects.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewConversation returns an empty log.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Append adds a turn, stamping it if the caller left At zero. Appending a
// result whose call id never appeared is rejected.
func (c *Conversation) Append(t Turn) error {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Kind == TurnToolResult {
		if t.Result == nil {
			return fmt.Errorf("orchestrator: tool result turn without result")
		}
		if !c.hasCallLocked(t.Result.ID) {
			return fmt.Errorf("orchestrator: result for unknown call %s", t.Result.ID)
		}
	}
	c.turns = append(c.turns, t)
	return nil
}

func (c *Conversation) hasCallLocked(id string) bool {
	for i := len(c.turns) - 1; i >= 0; i-- {
		t := c.turns[i]
		if t.Kind == TurnToolCall && t.Call != nil && t.Call.ID == id {
			return true
		}
	}
	return false
}

// Snapshot copies the log for a reader; the copy is safe to iterate while
// the conversation keeps growing.
func (c *Conversation) Snapshot() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len reports the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

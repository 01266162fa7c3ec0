package orchestrator

// EventType labels one streamed session event.
type EventType string

const (
	// EventTextDelta carries an incremental chunk of planner text.
	EventTextDelta EventType = "text_delta"
	// EventToolCallStarted marks a tool invocation being dispatched.
	EventToolCallStarted EventType = "tool_call_started"
	// EventToolCallFinished marks a successful invocation; Result is set.
	EventToolCallFinished EventType = "tool_call_finished"
	// EventToolCallFailed marks a failed invocation; Result.Err is set.
	EventToolCallFailed EventType = "tool_call_failed"
	// EventTurnComplete is the final event of every turn, success or not.
	EventTurnComplete EventType = "turn_complete"
)

// StreamEvent is one item on a session's event stream. Each turn ends with
// exactly one EventTurnComplete, after which the stream channel is closed.
type StreamEvent struct {
	Type   EventType
	Text   string
	Call   *ToolCallRequest
	Result *ToolCallResult
}

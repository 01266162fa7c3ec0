package tui

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/mcphub/orchestrator"
)

func TestApplyFoldsEventsIntoFeed(t *testing.T) {
	m := NewModel(context.Background(), nil)

	m.apply(orchestrator.StreamEvent{Type: orchestrator.EventTextDelta, Text: "thinking "})
	m.apply(orchestrator.StreamEvent{Type: orchestrator.EventTextDelta, Text: "about it"})
	m.apply(orchestrator.StreamEvent{
		Type: orchestrator.EventToolCallStarted,
		Call: &orchestrator.ToolCallRequest{ID: "c1", Name: "read_file"},
	})
	m.apply(orchestrator.StreamEvent{
		Type:   orchestrator.EventToolCallFinished,
		Result: &orchestrator.ToolCallResult{ID: "c1", Name: "read_file", Content: "hi"},
	})
	m.apply(orchestrator.StreamEvent{Type: orchestrator.EventTextDelta, Text: "done"})
	m.apply(orchestrator.StreamEvent{Type: orchestrator.EventTurnComplete})

	feed := strings.Join(m.lines, "\n")
	require.Contains(t, feed, "thinking about it")
	require.Contains(t, feed, "read_file")
	require.Contains(t, feed, "done")
	require.Equal(t, 0, m.current.Len())
}

func TestApplyRendersFailures(t *testing.T) {
	m := NewModel(context.Background(), nil)
	m.apply(orchestrator.StreamEvent{
		Type:   orchestrator.EventToolCallFailed,
		Result: &orchestrator.ToolCallResult{ID: "c1", Name: "fetch", Err: "provider unavailable"},
	})
	feed := strings.Join(m.lines, "\n")
	require.Contains(t, feed, "fetch")
	require.Contains(t, feed, "provider unavailable")
}

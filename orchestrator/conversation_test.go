package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationAppendOrder(t *testing.T) {
	conv := NewConversation()
	require.NoError(t, conv.Append(Turn{Kind: TurnUser, Text: "read the file"}))
	require.NoError(t, conv.Append(Turn{Kind: TurnToolCall, Call: &ToolCallRequest{ID: "c1", Name: "read_file"}}))
	require.NoError(t, conv.Append(Turn{Kind: TurnToolResult, Result: &ToolCallResult{ID: "c1", Name: "read_file", Content: "hi"}}))
	require.Equal(t, 3, conv.Len())

	turns := conv.Snapshot()
	require.Equal(t, TurnToolCall, turns[1].Kind)
	require.Equal(t, TurnToolResult, turns[2].Kind)
	require.False(t, turns[0].At.IsZero())
}

func TestConversationRejectsOrphanResult(t *testing.T) {
	conv := NewConversation()
	err := conv.Append(Turn{Kind: TurnToolResult, Result: &ToolCallResult{ID: "nope", Name: "x"}})
	require.Error(t, err)
	require.Equal(t, 0, conv.Len())

	err = conv.Append(Turn{Kind: TurnToolResult})
	require.Error(t, err)
}

func TestConversationSnapshotIsCopy(t *testing.T) {
	conv := NewConversation()
	require.NoError(t, conv.Append(Turn{Kind: TurnUser, Text: "one"}))
	snap := conv.Snapshot()
	require.NoError(t, conv.Append(Turn{Kind: TurnUser, Text: "two"}))
	require.Len(t, snap, 1)
	require.Equal(t, 2, conv.Len())
}

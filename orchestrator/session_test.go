package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexcodex/mcphub/mcp"
)

// scriptedPlanner replays a fixed sequence of plan steps, then keeps
// returning the last one.
type scriptedPlanner struct {
	mu    sync.Mutex
	steps []PlanResult
	seen  [][]Turn
}

func (p *scriptedPlanner) Plan(ctx context.Context, turns []Turn, catalog []mcp.ToolDescriptor) (PlanResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, turns)
	step := p.steps[0]
	if len(p.steps) > 1 {
		p.steps = p.steps[1:]
	}
	return step, nil
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event stream did not close")
		}
	}
}

func countEvents(events []StreamEvent, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func newTestSession(planner Planner, reg *Registry, cfg SessionConfig) *Session {
	router := NewRouter(reg, 0, zap.NewNop())
	return NewSession(planner, router, reg, cfg, zap.NewNop())
}

func TestSessionDirectAnswer(t *testing.T) {
	planner := &scriptedPlanner{steps: []PlanResult{{Text: "just an answer"}}}
	session := newTestSession(planner, NewRegistry(zap.NewNop()), SessionConfig{})

	events, err := session.Submit(context.Background(), "hello")
	require.NoError(t, err)
	got := collect(t, events)

	require.Equal(t, 1, countEvents(got, EventTurnComplete))
	require.Equal(t, EventTurnComplete, got[len(got)-1].Type)

	turns := session.History()
	require.Len(t, turns, 2)
	require.Equal(t, TurnUser, turns[0].Kind)
	require.Equal(t, TurnPlanner, turns[1].Kind)
	require.Equal(t, "just an answer", turns[1].Text)
}

func TestSessionToolRoundTrip(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register("filesystem", funcCaller(func(ctx context.Context, name string, args map[string]any) (mcp.ToolResult, error) {
		require.Equal(t, "hello.txt", args["path"])
		return textResult("Hello from the MCP file!"), nil
	}), []mcp.ToolDescriptor{tool("read_file", "filesystem")})

	planner := &scriptedPlanner{steps: []PlanResult{
		{ToolCalls: []ToolCallRequest{{ID: "c1", Name: "read_file", Args: map[string]any{"path": "hello.txt"}}}},
		{Text: "The file says: Hello from the MCP file!"},
	}}
	session := newTestSession(planner, reg, SessionConfig{})

	answer, err := session.Ask(context.Background(), "what does hello.txt say?")
	require.NoError(t, err)
	require.Contains(t, answer, "Hello from the MCP file!")

	turns := session.History()
	kinds := make([]TurnKind, len(turns))
	for i, turn := range turns {
		kinds[i] = turn.Kind
	}
	require.Equal(t, []TurnKind{TurnUser, TurnToolCall, TurnToolResult, TurnPlanner}, kinds)
	require.Equal(t, "Hello from the MCP file!", turns[2].Result.Content)

	// The second plan must have seen the tool result.
	planner.mu.Lock()
	defer planner.mu.Unlock()
	require.Len(t, planner.seen, 2)
	lastSeen := planner.seen[1]
	require.Equal(t, TurnToolResult, lastSeen[len(lastSeen)-1].Kind)
}

func TestSessionParallelCallsRecordedBeforeNextPlan(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register("p", funcCaller(func(ctx context.Context, name string, args map[string]any) (mcp.ToolResult, error) {
		return textResult(name), nil
	}), []mcp.ToolDescriptor{tool("a", "p"), tool("b", "p")})

	planner := &scriptedPlanner{steps: []PlanResult{
		{ToolCalls: []ToolCallRequest{{ID: "c1", Name: "a"}, {ID: "c2", Name: "b"}}},
		{Text: "done"},
	}}
	session := newTestSession(planner, reg, SessionConfig{})

	events, err := session.Submit(context.Background(), "run both")
	require.NoError(t, err)
	got := collect(t, events)
	require.Equal(t, 2, countEvents(got, EventToolCallStarted))
	require.Equal(t, 2, countEvents(got, EventToolCallFinished))
	require.Equal(t, 1, countEvents(got, EventTurnComplete))

	planner.mu.Lock()
	defer planner.mu.Unlock()
	second := planner.seen[1]
	results := 0
	for _, turn := range second {
		if turn.Kind == TurnToolResult {
			results++
		}
	}
	require.Equal(t, 2, results)
}

func TestSessionSurvivesUnknownTool(t *testing.T) {
	planner := &scriptedPlanner{steps: []PlanResult{
		{ToolCalls: []ToolCallRequest{{ID: "c1", Name: "no_such_tool"}}},
		{Text: "sorry, that tool does not exist"},
	}}
	session := newTestSession(planner, NewRegistry(zap.NewNop()), SessionConfig{})

	events, err := session.Submit(context.Background(), "use the phantom tool")
	require.NoError(t, err)
	got := collect(t, events)
	require.Equal(t, 1, countEvents(got, EventToolCallFailed))
	require.Equal(t, 1, countEvents(got, EventTurnComplete))

	answer, err := session.Ask(context.Background(), "still alive?")
	require.NoError(t, err)
	require.NotEmpty(t, answer)
}

func TestSessionIterationBound(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register("p", funcCaller(func(ctx context.Context, name string, args map[string]any) (mcp.ToolResult, error) {
		return textResult("more"), nil
	}), []mcp.ToolDescriptor{tool("loop", "p")})

	// The planner never produces a terminal answer.
	planner := &scriptedPlanner{steps: []PlanResult{
		{ToolCalls: []ToolCallRequest{{ID: "c", Name: "loop"}}},
	}}
	session := newTestSession(planner, reg, SessionConfig{MaxIterations: 3})

	events, err := session.Submit(context.Background(), "loop forever")
	require.NoError(t, err)
	got := collect(t, events)

	require.Equal(t, 3, countEvents(got, EventToolCallStarted))
	require.Equal(t, 1, countEvents(got, EventTurnComplete))

	turns := session.History()
	last := turns[len(turns)-1]
	require.Equal(t, TurnError, last.Kind)
	require.Contains(t, last.Text, "iteration limit")
}

func TestSessionRejectsConcurrentTurns(t *testing.T) {
	block := make(chan struct{})
	planner := blockingPlanner{release: block}
	session := newTestSession(planner, NewRegistry(zap.NewNop()), SessionConfig{})

	events, err := session.Submit(context.Background(), "first")
	require.NoError(t, err)

	_, err = session.Submit(context.Background(), "second")
	require.Error(t, err)

	close(block)
	collect(t, events)
}

type blockingPlanner struct {
	release <-chan struct{}
}

func (p blockingPlanner) Plan(ctx context.Context, turns []Turn, catalog []mcp.ToolDescriptor) (PlanResult, error) {
	<-p.release
	return PlanResult{Text: "ok"}, nil
}

type recordingSink struct {
	mu    sync.Mutex
	turns []Turn
}

func (s *recordingSink) AppendTurn(sessionID string, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	return nil
}

func TestSessionWritesTranscript(t *testing.T) {
	sink := &recordingSink{}
	planner := &scriptedPlanner{steps: []PlanResult{{Text: "noted"}}}
	session := newTestSession(planner, NewRegistry(zap.NewNop()), SessionConfig{Sink: sink})

	_, err := session.Ask(context.Background(), "remember this")
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.turns, 2)
	require.Equal(t, TurnUser, sink.turns[0].Kind)
	require.Equal(t, TurnPlanner, sink.turns[1].Kind)
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TranscriptSink receives every turn a session appends, for persistence.
// Sink failures are logged and never interrupt the turn.
type TranscriptSink interface {
	AppendTurn(sessionID string, t Turn) error
}

// SessionConfig tunes one session. Zero values pick defaults.
type SessionConfig struct {
	// MaxIterations bounds plan/dispatch rounds per user turn.
	MaxIterations int
	// Sink, when set, persists the conversation as it grows.
	Sink TranscriptSink
}

const defaultMaxIterations = 8

// Session drives the plan, dispatch, observe loop for one conversation.
// One user turn runs at a time; Submit during an active turn fails fast.
type Session struct {
	id       string
	planner  Planner
	router   *Router
	registry *Registry
	conv     *Conversation
	cfg      SessionConfig
	logger   *zap.Logger

	mu   sync.Mutex
	busy bool
}

// NewSession wires a session around an existing registry and router.
func NewSession(planner Planner, router *Router, registry *Registry, cfg SessionConfig, logger *zap.Logger) *Session {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		planner:  planner,
		router:   router,
		registry: registry,
		conv:     NewConversation(),
		cfg:      cfg,
		logger:   logger.Named("session").With(zap.String("session", id)),
	}
}

// ID returns the session identifier used for transcript storage.
func (s *Session) ID() string { return s.id }

// History snapshots the conversation log.
func (s *Session) History() []Turn { return s.conv.Snapshot() }

// Submit starts one user turn and returns its event stream. The stream
// always ends with EventTurnComplete and is then closed, whether the turn
// succeeded, failed or was cancelled.
func (s *Session) Submit(ctx context.Context, input string) (<-chan StreamEvent, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, fmt.Errorf("orchestrator: session %s already has a turn in flight", s.id)
	}
	s.busy = true
	s.mu.Unlock()

	events := make(chan StreamEvent, 64)
	go func() {
		defer func() {
			close(events)
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}()
		s.run(ctx, input, events)
	}()
	return events, nil
}

// Ask runs one turn to completion and returns the planner's final text.
func (s *Session) Ask(ctx context.Context, input string) (string, error) {
	events, err := s.Submit(ctx, input)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for ev := range events {
		if ev.Type == EventTextDelta {
			b.WriteString(ev.Text)
		}
	}
	return b.String(), ctx.Err()
}

func (s *Session) run(ctx context.Context, input string, events chan<- StreamEvent) {
	s.appendTurn(Turn{Kind: TurnUser, Text: input})

	for iteration := 0; iteration < s.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			s.fail(events, fmt.Sprintf("turn cancelled: %v", ctx.Err()))
			return
		}

		plan, err := s.plan(ctx, events)
		if err != nil {
			s.fail(events, fmt.Sprintf("planner failed: %v", err))
			return
		}

		if plan.Text != "" {
			s.appendTurn(Turn{Kind: TurnPlanner, Text: plan.Text})
		}
		if len(plan.ToolCalls) == 0 {
			events <- StreamEvent{Type: EventTurnComplete}
			return
		}

		for i := range plan.ToolCalls {
			call := plan.ToolCalls[i]
			s.appendTurn(Turn{Kind: TurnToolCall, Call: &call})
			events <- StreamEvent{Type: EventToolCallStarted, Call: &call}
		}
		s.router.Dispatch(ctx, plan.ToolCalls, func(res ToolCallResult) {
			r := res
			s.appendTurn(Turn{Kind: TurnToolResult, Result: &r})
			if res.Failed() {
				events <- StreamEvent{Type: EventToolCallFailed, Result: &r}
			} else {
				events <- StreamEvent{Type: EventToolCallFinished, Result: &r}
			}
		})
	}

	s.logger.Warn("iteration limit reached", zap.Int("max", s.cfg.MaxIterations))
	s.fail(events, ErrLoopExceeded.Error())
}

// plan runs one planner step, streaming text deltas when the planner can.
func (s *Session) plan(ctx context.Context, events chan<- StreamEvent) (PlanResult, error) {
	turns := s.conv.Snapshot()
	catalog := s.registry.Catalog()
	if sp, ok := s.planner.(StreamingPlanner); ok {
		return sp.PlanStream(ctx, turns, catalog, func(delta string) {
			events <- StreamEvent{Type: EventTextDelta, Text: delta}
		})
	}
	plan, err := s.planner.Plan(ctx, turns, catalog)
	if err == nil && plan.Text != "" {
		events <- StreamEvent{Type: EventTextDelta, Text: plan.Text}
	}
	return plan, err
}

// fail records the failure in the conversation and completes the turn.
func (s *Session) fail(events chan<- StreamEvent, msg string) {
	s.appendTurn(Turn{Kind: TurnError, Text: msg})
	events <- StreamEvent{Type: EventTextDelta, Text: msg}
	events <- StreamEvent{Type: EventTurnComplete}
}

func (s *Session) appendTurn(t Turn) {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	if err := s.conv.Append(t); err != nil {
		s.logger.Error("conversation append rejected", zap.Error(err))
		return
	}
	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.AppendTurn(s.id, t); err != nil {
			s.logger.Warn("transcript write failed", zap.Error(err))
		}
	}
}

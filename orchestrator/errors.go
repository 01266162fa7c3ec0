package orchestrator

import "errors"

var (
	// ErrToolNotFound reports a dispatch against a name no provider
	// currently advertises.
	ErrToolNotFound = errors.New("orchestrator: tool not found")

	// ErrLoopExceeded reports a turn that hit the iteration bound without
	// the planner producing a terminal response.
	ErrLoopExceeded = errors.New("orchestrator: iteration limit reached")
)

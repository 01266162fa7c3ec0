package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Router dispatches planner-requested tool calls against the registry.
type Router struct {
	registry    *Registry
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewRouter builds a router. callTimeout bounds each individual call; zero
// leaves only the turn context as the bound.
func NewRouter(registry *Registry, callTimeout time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry:    registry,
		callTimeout: callTimeout,
		logger:      logger.Named("router"),
	}
}

// Dispatch runs every call concurrently and returns results in request
// order. One failing call never aborts its siblings; failures come back as
// results with Err set. observe, if non-nil, sees each result as it
// completes (serialized, completion order).
func (r *Router) Dispatch(ctx context.Context, calls []ToolCallRequest, observe func(ToolCallResult)) []ToolCallResult {
	results := make([]ToolCallResult, len(calls))
	var wg sync.WaitGroup
	var obsMu sync.Mutex
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCallRequest) {
			defer wg.Done()
			res := r.dispatchOne(ctx, call)
			results[i] = res
			if observe != nil {
				obsMu.Lock()
				observe(res)
				obsMu.Unlock()
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

func (r *Router) dispatchOne(ctx context.Context, call ToolCallRequest) ToolCallResult {
	res := ToolCallResult{ID: call.ID, Name: call.Name}
	caller, _, err := r.registry.Resolve(call.Name)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	started := time.Now()
	out, err := caller.CallTool(ctx, call.Name, call.Args, r.callTimeout)
	elapsed := time.Since(started)
	if err != nil {
		r.logger.Warn("tool call failed",
			zap.String("tool", call.Name), zap.Duration("elapsed", elapsed), zap.Error(err))
		res.Err = err.Error()
		return res
	}
	r.logger.Debug("tool call completed",
		zap.String("tool", call.Name), zap.Duration("elapsed", elapsed), zap.Bool("isError", out.IsError))
	res.Content = out.Text()
	if out.IsError {
		// Provider-level tool errors arrive as ordinary results flagged
		// isError; the text is the diagnostic.
		res.Err = res.Content
		if res.Err == "" {
			res.Err = "tool reported an error"
		}
	}
	return res
}

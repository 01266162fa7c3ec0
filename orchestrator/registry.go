package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lexcodex/mcphub/mcp"
)

// entry binds a tool name to the provider client that serves it.
type entry struct {
	tool   mcp.ToolDescriptor
	caller ToolCaller
}

// Conflict records a tool name two providers both advertised. The earlier
// registration keeps the name.
type Conflict struct {
	Name   string
	Winner string
	Loser  string
}

// Registry maps tool names to providers. Collisions resolve
// first-registered-wins and are kept for diagnostics.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]entry
	conflicts []Conflict
	logger    *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]entry),
		logger:  logger.Named("registry"),
	}
}

// Register adds every tool a provider advertised. Names already taken stay
// with their current owner and the collision is recorded.
func (r *Registry) Register(provider string, caller ToolCaller, tools []mcp.ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tool := range tools {
		if existing, taken := r.entries[tool.Name]; taken {
			r.conflicts = append(r.conflicts, Conflict{
				Name:   tool.Name,
				Winner: existing.tool.Provider,
				Loser:  provider,
			})
			r.logger.Warn("tool name collision",
				zap.String("tool", tool.Name),
				zap.String("kept", existing.tool.Provider),
				zap.String("ignored", provider))
			continue
		}
		r.entries[tool.Name] = entry{tool: tool, caller: caller}
	}
	r.logger.Info("provider registered", zap.String("provider", provider), zap.Int("tools", len(tools)))
}

// Unregister drops every tool owned by the provider. Conflicts it lost stay
// recorded; names it held do NOT fall back to the losing provider.
func (r *Registry) Unregister(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for name, e := range r.entries {
		if e.tool.Provider == provider {
			delete(r.entries, name)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("provider unregistered", zap.String("provider", provider), zap.Int("tools", removed))
	}
}

// Resolve finds the caller and descriptor for a tool name.
func (r *Registry) Resolve(name string) (ToolCaller, mcp.ToolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, mcp.ToolDescriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return e.caller, e.tool, nil
}

// Catalog lists every registered tool sorted by name, for the planner and
// for display.
func (r *Registry) Catalog() []mcp.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.ToolDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Conflicts returns the recorded name collisions.
func (r *Registry) Conflicts() []Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conflict, len(r.conflicts))
	copy(out, r.conflicts)
	return out
}

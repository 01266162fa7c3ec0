package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lexcodex/mcphub/mcp"
)

type staticCaller struct {
	result mcp.ToolResult
	err    error
}

func (c *staticCaller) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (mcp.ToolResult, error) {
	return c.result, c.err
}

func tool(name, provider string) mcp.ToolDescriptor {
	return mcp.ToolDescriptor{Name: name, Provider: provider}
}

func TestRegistryFirstRegistrationWins(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	first := &staticCaller{}
	second := &staticCaller{}
	reg.Register("alpha", first, []mcp.ToolDescriptor{tool("read_file", "alpha")})
	reg.Register("beta", second, []mcp.ToolDescriptor{tool("read_file", "beta"), tool("fetch", "beta")})

	caller, desc, err := reg.Resolve("read_file")
	require.NoError(t, err)
	require.Same(t, first, caller.(*staticCaller))
	require.Equal(t, "alpha", desc.Provider)

	conflicts := reg.Conflicts()
	require.Len(t, conflicts, 1)
	require.Equal(t, "read_file", conflicts[0].Name)
	require.Equal(t, "alpha", conflicts[0].Winner)
	require.Equal(t, "beta", conflicts[0].Loser)
}

func TestRegistryUnregisterRemovesOnlyOwnTools(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register("alpha", &staticCaller{}, []mcp.ToolDescriptor{tool("read_file", "alpha")})
	reg.Register("beta", &staticCaller{}, []mcp.ToolDescriptor{tool("fetch", "beta")})

	reg.Unregister("alpha")
	_, _, err := reg.Resolve("read_file")
	require.ErrorIs(t, err, ErrToolNotFound)
	_, _, err = reg.Resolve("fetch")
	require.NoError(t, err)
}

func TestRegistryCatalogSorted(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register("alpha", &staticCaller{}, []mcp.ToolDescriptor{
		tool("zebra", "alpha"), tool("apple", "alpha"), tool("mango", "alpha"),
	})
	catalog := reg.Catalog()
	require.Len(t, catalog, 3)
	require.Equal(t, "apple", catalog[0].Name)
	require.Equal(t, "mango", catalog[1].Name)
	require.Equal(t, "zebra", catalog[2].Name)
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider runs an in-process MCP server on the far end of a pipe.
type fakeProvider struct {
	mu       sync.Mutex
	version  string
	tools    []map[string]any
	callFn   func(params callToolParams) (any, error)
	received []string
}

func (f *fakeProvider) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	f.mu.Lock()
	f.received = append(f.received, req.Method)
	f.mu.Unlock()
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": f.version,
			"serverInfo":      map[string]string{"name": "fake", "version": "1.0"},
		}, nil
	case "notifications/initialized":
		return nil, nil
	case "tools/list":
		return map[string]any{"tools": f.tools}, nil
	case "tools/call":
		var params callToolParams
		if req.Params != nil {
			if err := json.Unmarshal(*req.Params, &params); err != nil {
				return nil, err
			}
		}
		if f.callFn != nil {
			return f.callFn(params)
		}
		return map[string]any{"content": []map[string]string{}}, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method"}
}

func (f *fakeProvider) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	copy(out, f.received)
	return out
}

func newTestClient(t *testing.T, provider *fakeProvider) *Client {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	serverStream := jsonrpc2.NewBufferedStream(serverEnd, jsonrpc2.PlainObjectCodec{})
	serverConn := jsonrpc2.NewConn(context.Background(), serverStream,
		jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(provider.handle)))
	client := NewClient(context.Background(), "fake", clientEnd, zap.NewNop())
	t.Cleanup(func() {
		_ = client.Close()
		_ = serverConn.Close()
	})
	return client
}

func TestHandshakeListsTools(t *testing.T) {
	provider := &fakeProvider{
		version: "2025-03-26",
		tools: []map[string]any{
			{"name": "read_file", "description": "Read a file", "inputSchema": map[string]any{"type": "object"}},
			{"name": "write_file", "description": "Write a file"},
		},
	}
	client := newTestClient(t, provider)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tools, err := client.Handshake(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "read_file", tools[0].Name)
	require.Equal(t, "fake", tools[0].Provider)
	require.Equal(t, "fake", tools[1].Provider)
	require.Contains(t, provider.methods(), "notifications/initialized")
}

func TestHandshakeOlderProtocolAccepted(t *testing.T) {
	provider := &fakeProvider{version: "2024-11-05"}
	client := newTestClient(t, provider)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Handshake(ctx)
	require.NoError(t, err)
}

func TestHandshakeRejectsUnknownVersion(t *testing.T) {
	provider := &fakeProvider{version: "1999-01-01"}
	client := newTestClient(t, provider)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Handshake(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported protocol version")
}

func TestCallToolReturnsContent(t *testing.T) {
	provider := &fakeProvider{
		version: "2025-03-26",
		callFn: func(params callToolParams) (any, error) {
			require.Equal(t, "read_file", params.Name)
			return map[string]any{
				"content": []map[string]string{{"type": "text", "text": "Hello from the MCP file!"}},
			}, nil
		},
	}
	client := newTestClient(t, provider)

	result, err := client.CallTool(context.Background(), "read_file", map[string]any{"path": "hello.txt"}, 5*time.Second)
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "Hello from the MCP file!", result.Text())
}

func TestCallToolTimeout(t *testing.T) {
	provider := &fakeProvider{
		version: "2025-03-26",
		callFn: func(params callToolParams) (any, error) {
			time.Sleep(2 * time.Second)
			return map[string]any{"content": []map[string]string{}}, nil
		},
	}
	client := newTestClient(t, provider)

	_, err := client.CallTool(context.Background(), "slow_tool", nil, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrCallTimeout)
}

func TestLateResponseAfterTimeoutIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{
		version: "2025-03-26",
		callFn: func(params callToolParams) (any, error) {
			if params.Name == "stall" {
				<-release
				return map[string]any{
					"content": []map[string]string{{"type": "text", "text": "stale"}},
				}, nil
			}
			return map[string]any{
				"content": []map[string]string{{"type": "text", "text": "fresh"}},
			}, nil
		},
	}
	client := newTestClient(t, provider)

	_, err := client.CallTool(context.Background(), "stall", nil, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrCallTimeout)

	// Deliver the response for the abandoned correlation id, then give
	// the read loop time to see and drop it.
	close(release)
	time.Sleep(100 * time.Millisecond)

	result, err := client.CallTool(context.Background(), "quick", nil, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "fresh", result.Text())
}

func TestCallToolProviderError(t *testing.T) {
	provider := &fakeProvider{
		version: "2025-03-26",
		callFn: func(params callToolParams) (any, error) {
			return nil, &jsonrpc2.Error{Code: -32000, Message: "disk on fire"}
		},
	}
	client := newTestClient(t, provider)

	_, err := client.CallTool(context.Background(), "read_file", nil, 5*time.Second)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	require.Equal(t, "read_file", callErr.Tool)
	require.Equal(t, int64(-32000), callErr.Code)
	require.Contains(t, callErr.Message, "disk on fire")
}

func TestPendingCallsFailWhenConnectionCloses(t *testing.T) {
	block := make(chan struct{})
	provider := &fakeProvider{
		version: "2025-03-26",
		callFn: func(params callToolParams) (any, error) {
			<-block
			return map[string]any{"content": []map[string]string{}}, nil
		},
	}
	client := newTestClient(t, provider)
	defer close(block)

	const pending = 3
	errs := make(chan error, pending)
	for i := 0; i < pending; i++ {
		go func() {
			_, err := client.CallTool(context.Background(), "stuck", nil, 0)
			errs <- err
		}()
	}
	// Let the calls reach the wire before tearing the connection down.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, client.Close())

	for i := 0; i < pending; i++ {
		select {
		case err := <-errs:
			require.ErrorIs(t, err, ErrProviderUnavailable)
		case <-time.After(5 * time.Second):
			t.Fatal("pending call did not complete after close")
		}
	}
}

func TestCallCancellationPassesThrough(t *testing.T) {
	block := make(chan struct{})
	provider := &fakeProvider{
		version: "2025-03-26",
		callFn: func(params callToolParams) (any, error) {
			<-block
			return map[string]any{"content": []map[string]string{}}, nil
		},
	}
	client := newTestClient(t, provider)
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := client.CallTool(ctx, "stuck", nil, 0)
	require.True(t, errors.Is(err, context.Canceled))
}

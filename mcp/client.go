package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
)

// ProtocolVersion is the MCP revision the client offers at handshake.
const ProtocolVersion = "2025-03-26"

// supportedVersions lists the revisions the client accepts in the
// provider's initialize response. Anything else fails the handshake
// rather than silently degrading.
var supportedVersions = map[string]bool{
	"2025-03-26": true,
	"2024-11-05": true,
}

// Client speaks MCP (JSON-RPC 2.0 over newline-delimited JSON) with one
// provider process. Request correlation and the pending-call map live in
// the underlying jsonrpc2 connection: responses are matched by id, not
// arrival order, and a response for an id nobody is waiting on is dropped.
type Client struct {
	provider string
	conn     *jsonrpc2.Conn
	logger   *zap.Logger
}

// NewClient wraps a provider transport. The connection's read loop starts
// immediately; ctx bounds its lifetime.
func NewClient(ctx context.Context, provider string, rwc io.ReadWriteCloser, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		provider: provider,
		logger:   logger.Named("mcp").With(zap.String("provider", provider)),
	}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.PlainObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(c.handle)))
	return c
}

// handle services provider-initiated traffic. Notifications are informational
// only; requests are refused so a confused provider cannot stall the loop.
func (c *Client) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if !req.Notif {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled"}
	}
	switch req.Method {
	case "notifications/tools/list_changed":
		c.logger.Info("provider changed its tool list; restart to pick it up")
	case "notifications/message", "notifications/progress":
		c.logger.Debug("provider notification", zap.String("method", req.Method))
	default:
		c.logger.Debug("unhandled provider notification", zap.String("method", req.Method))
	}
	return nil, nil
}

// Handshake performs capability negotiation: initialize, the initialized
// notification, then tools/list. The caller bounds it with a context
// deadline; hitting that deadline surfaces as ErrHandshakeTimeout.
func (c *Client) Handshake(ctx context.Context) ([]ToolDescriptor, error) {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      implementationInfo{Name: "mcphub", Version: "0.1"},
	}
	var init initializeResult
	if err := c.conn.Call(ctx, "initialize", params, &init); err != nil {
		return nil, c.handshakeErr(err)
	}
	if !supportedVersions[init.ProtocolVersion] {
		return nil, fmt.Errorf("mcp: provider %s speaks unsupported protocol version %q", c.provider, init.ProtocolVersion)
	}
	if err := c.conn.Notify(ctx, "notifications/initialized", struct{}{}); err != nil {
		return nil, c.handshakeErr(err)
	}
	var list listToolsResult
	if err := c.conn.Call(ctx, "tools/list", struct{}{}, &list); err != nil {
		return nil, c.handshakeErr(err)
	}
	tools := make([]ToolDescriptor, len(list.Tools))
	for i, tool := range list.Tools {
		tool.Provider = c.provider
		tools[i] = tool
	}
	c.logger.Info("handshake complete",
		zap.String("server", init.ServerInfo.Name),
		zap.String("protocol", init.ProtocolVersion),
		zap.Int("tools", len(tools)))
	return tools, nil
}

// CallTool invokes one tool on the provider. A timeout of zero means the
// caller's context is the only bound.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, timeout time.Duration) (ToolResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var result ToolResult
	err := c.conn.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: args}, &result)
	if err != nil {
		return ToolResult{}, c.callErr(name, err)
	}
	return result, nil
}

// Close tears down the connection, failing every pending call.
func (c *Client) Close() error {
	return c.conn.Close()
}

// DisconnectNotify is closed when the connection is no longer usable.
func (c *Client) DisconnectNotify() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

func (c *Client) handshakeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: provider %s", ErrHandshakeTimeout, c.provider)
	}
	if errors.Is(err, jsonrpc2.ErrClosed) {
		return fmt.Errorf("mcp: provider %s exited during handshake", c.provider)
	}
	return fmt.Errorf("mcp: handshake with provider %s: %w", c.provider, err)
}

// callErr maps wire-level failures onto the call error taxonomy.
func (c *Client) callErr(tool string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrCallTimeout, tool)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, jsonrpc2.ErrClosed):
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, c.provider)
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return &CallError{Tool: tool, Code: rpcErr.Code, Message: rpcErr.Message}
	}
	var typeErr *json.UnmarshalTypeError
	var synErr *json.SyntaxError
	if errors.As(err, &typeErr) || errors.As(err, &synErr) {
		c.logger.Warn("undecodable tool result", zap.String("tool", tool), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, tool, err)
	}
	return fmt.Errorf("mcp: call %s on provider %s: %w", tool, c.provider, err)
}

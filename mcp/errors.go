package mcp

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeTimeout reports that a provider failed capability
	// negotiation within the configured window. Fatal for that provider.
	ErrHandshakeTimeout = errors.New("mcp: handshake timed out")

	// ErrProviderUnavailable is returned for every call pending on a
	// provider whose process has exited, and for calls issued afterwards.
	ErrProviderUnavailable = errors.New("mcp: provider unavailable")

	// ErrCallTimeout reports a tool call with no response inside its
	// timeout. A response arriving later is discarded by the connection.
	ErrCallTimeout = errors.New("mcp: tool call timed out")

	// ErrMalformedResponse reports a response that could not be decoded
	// into the expected shape. The connection keeps servicing other calls.
	ErrMalformedResponse = errors.New("mcp: malformed response")
)

// SpawnError wraps a failure to launch a provider process.
type SpawnError struct {
	Provider string
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("mcp: spawn provider %s: %v", e.Provider, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// CallError is a provider-reported tool failure, delivered over the wire
// as a JSON-RPC error response.
type CallError struct {
	Tool    string
	Code    int64
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("mcp: tool %s failed (code %d): %s", e.Tool, e.Code, e.Message)
}

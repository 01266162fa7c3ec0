package mcp

import "encoding/json"

// ProviderDescriptor describes how to launch one tool provider process.
// It is immutable after the supervisor starts the provider.
type ProviderDescriptor struct {
	ID      string
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

// ToolDescriptor is one callable operation advertised by a provider at
// handshake. InputSchema carries the provider's JSON schema verbatim so the
// planner can reason about arguments without the runtime interpreting it.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Provider    string          `json:"-"`
}

// ContentBlock is a single chunk of tool output. Only text blocks are
// interpreted; other block types are carried through untouched.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the provider's answer to a tools/call request.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text concatenates the text blocks of the result.
func (r ToolResult) Text() string {
	var out string
	for _, block := range r.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out
}

// Wire messages for the capability negotiation and tool calls.

type implementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type clientCapabilities struct {
	// The orchestrator consumes tools only; sampling/roots are not offered.
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    clientCapabilities `json:"capabilities"`
	ClientInfo      implementationInfo `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      implementationInfo `json:"serverInfo"`
	Capabilities    json.RawMessage    `json:"capabilities,omitempty"`
}

type listToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

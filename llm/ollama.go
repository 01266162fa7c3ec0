package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/mcphub/mcp"
	"github.com/lexcodex/mcphub/orchestrator"
)

// Client is an Ollama-backed planner. It renders the conversation into
// chat messages, offers the tool catalog as function definitions, and maps
// the model's tool_calls back into dispatch requests.
type Client struct {
	Endpoint     string
	Model        string
	SystemPrompt string

	client *http.Client
	logger *zap.Logger
}

const defaultSystemPrompt = "You are a tool-using assistant. Call the provided tools when they help; " +
	"answer directly when they do not. Prefer small, targeted tool calls."

// NewClient builds a planner against an Ollama endpoint.
func NewClient(endpoint, model string, logger *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Endpoint:     endpoint,
		Model:        model,
		SystemPrompt: defaultSystemPrompt,
		client:       &http.Client{Timeout: 3 * time.Minute},
		logger:       logger.Named("ollama"),
	}
}

// Plan produces the next step without streaming.
func (c *Client) Plan(ctx context.Context, turns []orchestrator.Turn, catalog []mcp.ToolDescriptor) (orchestrator.PlanResult, error) {
	return c.plan(ctx, turns, catalog, nil)
}

// PlanStream produces the next step, delivering text chunks to onDelta as
// they arrive.
func (c *Client) PlanStream(ctx context.Context, turns []orchestrator.Turn, catalog []mcp.ToolDescriptor, onDelta func(string)) (orchestrator.PlanResult, error) {
	return c.plan(ctx, turns, catalog, onDelta)
}

func (c *Client) plan(ctx context.Context, turns []orchestrator.Turn, catalog []mcp.ToolDescriptor, onDelta func(string)) (orchestrator.PlanResult, error) {
	payload := map[string]interface{}{
		"model":    c.model(),
		"messages": c.buildMessages(turns),
		"stream":   onDelta != nil,
	}
	if len(catalog) > 0 {
		payload["tools"] = convertCatalog(catalog)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return orchestrator.PlanResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return orchestrator.PlanResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return orchestrator.PlanResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(msg))
		if detail != "" {
			return orchestrator.PlanResult{}, fmt.Errorf("ollama error: %s: %s", resp.Status, detail)
		}
		return orchestrator.PlanResult{}, fmt.Errorf("ollama error: %s", resp.Status)
	}
	if onDelta != nil {
		return c.decodeStream(resp.Body, onDelta)
	}
	return c.decodeOnce(resp.Body)
}

func (c *Client) decodeOnce(body io.Reader) (orchestrator.PlanResult, error) {
	var raw ollamaResponse
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return orchestrator.PlanResult{}, err
	}
	plan := orchestrator.PlanResult{Text: firstNonEmpty(raw.Text, raw.Response)}
	if plan.Text == "" && raw.Message != nil {
		plan.Text = raw.Message.Content
	}
	plan.ToolCalls = append(plan.ToolCalls, parseToolCalls(raw.ToolCalls)...)
	if raw.Message != nil {
		plan.ToolCalls = append(plan.ToolCalls, parseToolCalls(raw.Message.ToolCalls)...)
	}
	return plan, nil
}

// decodeStream consumes Ollama's newline-delimited chat chunks, forwarding
// text as it arrives and accumulating tool calls until the done chunk.
func (c *Client) decodeStream(body io.Reader, onDelta func(string)) (orchestrator.PlanResult, error) {
	var plan orchestrator.PlanResult
	var text strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Warn("undecodable stream chunk", zap.Error(err))
			continue
		}
		if chunk.Message != nil {
			if chunk.Message.Content != "" {
				text.WriteString(chunk.Message.Content)
				onDelta(chunk.Message.Content)
			}
			plan.ToolCalls = append(plan.ToolCalls, parseToolCalls(chunk.Message.ToolCalls)...)
		}
		plan.ToolCalls = append(plan.ToolCalls, parseToolCalls(chunk.ToolCalls)...)
	}
	if err := scanner.Err(); err != nil {
		return orchestrator.PlanResult{}, err
	}
	plan.Text = text.String()
	return plan, nil
}

// buildMessages renders the conversation into Ollama chat messages. Tool
// calls ride on the preceding assistant message; results become role=tool
// messages correlated by tool_call_id.
func (c *Client) buildMessages(turns []orchestrator.Turn) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(turns)+1)
	if c.SystemPrompt != "" {
		out = append(out, map[string]interface{}{"role": "system", "content": c.SystemPrompt})
	}
	for _, turn := range turns {
		switch turn.Kind {
		case orchestrator.TurnUser:
			out = append(out, map[string]interface{}{"role": "user", "content": turn.Text})
		case orchestrator.TurnPlanner:
			out = append(out, map[string]interface{}{"role": "assistant", "content": turn.Text})
		case orchestrator.TurnToolCall:
			if turn.Call == nil {
				continue
			}
			args := turn.Call.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			entry := map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":      turn.Call.Name,
					"arguments": args,
				},
			}
			if turn.Call.ID != "" {
				entry["id"] = turn.Call.ID
			}
			if last := len(out) - 1; last >= 0 && out[last]["role"] == "assistant" {
				calls, _ := out[last]["tool_calls"].([]map[string]interface{})
				out[last]["tool_calls"] = append(calls, entry)
			} else {
				out = append(out, map[string]interface{}{
					"role":       "assistant",
					"content":    "",
					"tool_calls": []map[string]interface{}{entry},
				})
			}
		case orchestrator.TurnToolResult:
			if turn.Result == nil {
				continue
			}
			content := turn.Result.Content
			if turn.Result.Failed() {
				content = "error: " + turn.Result.Err
			}
			out = append(out, map[string]interface{}{
				"role":         "tool",
				"content":      content,
				"name":         turn.Result.Name,
				"tool_name":    turn.Result.Name,
				"tool_call_id": turn.Result.ID,
			})
		case orchestrator.TurnError:
			out = append(out, map[string]interface{}{
				"role":    "system",
				"content": "previous turn failed: " + turn.Text,
			})
		}
	}
	return out
}

// convertCatalog passes each tool's JSON schema through untouched as the
// function parameters.
func convertCatalog(catalog []mcp.ToolDescriptor) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(catalog))
	for _, tool := range catalog {
		fn := map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
		}
		if len(tool.InputSchema) > 0 {
			fn["parameters"] = tool.InputSchema
		} else {
			fn["parameters"] = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out = append(out, map[string]interface{}{"type": "function", "function": fn})
	}
	return out
}

func (c *Client) model() string {
	if c.Model != "" {
		return c.Model
	}
	return "qwen2.5"
}

type ollamaToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Function  struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls"`
}

type ollamaResponse struct {
	Text      string           `json:"text"`
	Response  string           `json:"response"`
	Message   *ollamaMessage   `json:"message"`
	ToolCalls []ollamaToolCall `json:"tool_calls"`
	Done      bool             `json:"done"`
}

func parseToolCalls(calls []ollamaToolCall) []orchestrator.ToolCallRequest {
	out := make([]orchestrator.ToolCallRequest, 0, len(calls))
	for _, call := range calls {
		name := call.Name
		args := call.Arguments
		if call.Function.Name != "" {
			name = call.Function.Name
		}
		if len(call.Function.Arguments) > 0 {
			args = call.Function.Arguments
		}
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, orchestrator.ToolCallRequest{
			ID:   id,
			Name: name,
			Args: parseArguments(args),
		})
	}
	return out
}

// parseArguments tolerates the argument encodings models actually emit:
// an object, a JSON string wrapping an object, or a bare string.
func parseArguments(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		var nested map[string]interface{}
		if err := json.Unmarshal([]byte(str), &nested); err == nil {
			return nested
		}
		return map[string]interface{}{"value": str}
	}
	return map[string]interface{}{"_raw": string(raw)}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/switchboard/internal/model"
)

// ToolCaller is the part of an MCP client the executor needs.
// *client.Client satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// MCPExecutor runs commands as MCP tool calls named "<provider>__<action>".
// The command's Args travel as the "args" argument.
type MCPExecutor struct {
	caller ToolCaller
}

// NewMCPExecutor wraps an initialized MCP client.
func NewMCPExecutor(caller ToolCaller) *MCPExecutor {
	return &MCPExecutor{caller: caller}
}

// Execute calls the tool for cmd. Transport failures are reported as
// ErrProviderUnavailable; a tool-level error result is a plain error.
func (e *MCPExecutor) Execute(ctx context.Context, cmd Command) (Result, error) {
	args := map[string]any{}
	if cmd.Args != "" {
		args["args"] = cmd.Args
	}
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      cmd.ToolName(),
			Arguments: args,
		},
	}

	result, err := e.caller.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: calling %s: %v", ErrProviderUnavailable, req.Params.Name, err)
	}

	text := toolText(result)
	if result.IsError {
		return Result{}, fmt.Errorf("%s failed: %s", req.Params.Name, text)
	}

	res := Result{Command: cmd, Text: text}
	var data any
	if json.Unmarshal([]byte(text), &data) == nil {
		res.Data = data
	}
	return res, nil
}

// MediaToolPrefix namespaces media tools on the provider gateway.
const MediaToolPrefix = "media__"

// MCPToolRunner runs media tools (youtube, vision, dalle, ...) as MCP tool
// calls named "media__<tool>" with the message text and user id as
// arguments.
type MCPToolRunner struct {
	caller ToolCaller
}

func NewMCPToolRunner(caller ToolCaller) *MCPToolRunner {
	return &MCPToolRunner{caller: caller}
}

func (r *MCPToolRunner) Run(ctx context.Context, toolID string, msg model.Message) (string, error) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: MediaToolPrefix + toolID,
			Arguments: map[string]any{
				"text":    msg.Text,
				"user_id": msg.User.ID,
			},
		},
	}
	result, err := r.caller.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: calling %s: %v", ErrProviderUnavailable, req.Params.Name, err)
	}
	text := toolText(result)
	if result.IsError {
		return "", fmt.Errorf("%s failed: %s", req.Params.Name, text)
	}
	return text, nil
}

func toolText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// DialMCP connects to a streamable-HTTP MCP server and performs the
// initialize handshake. The caller closes the returned client.
func DialMCP(ctx context.Context, url, clientName, clientVersion string) (*client.Client, error) {
	tr, err := transport.NewStreamableHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("creating MCP transport: %w", err)
	}
	return connect(ctx, tr, clientName, clientVersion)
}

func connect(ctx context.Context, tr transport.Interface, clientName, clientVersion string) (*client.Client, error) {
	if err := tr.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MCP transport: %w", err)
	}
	c := client.NewClient(tr)
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: "2024-11-05",
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initializing MCP session: %w", err)
	}
	return c, nil
}

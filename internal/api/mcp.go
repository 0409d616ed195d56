package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/tracing"
)

// MCPDeps holds dependencies for the diagnostics MCP server.
type MCPDeps struct {
	Tracer     *tracing.Tracer
	Classifier *intent.Classifier
	Version    string
}

// NewMCPServer creates an MCP server exposing request traces and the
// intent classifier to MCP clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"switchboard",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("switchboard diagnostics: inspect request traces, latency metrics and intent classification."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_trace",
			mcp.WithDescription("Return one request trace with all of its events."),
			mcp.WithString("trace_id", mcp.Description("Trace id"), mcp.Required()),
		),
		mcpGetTrace(deps),
	)

	s.AddTool(
		mcp.NewTool("user_traces",
			mcp.WithDescription("List a user's most recent traces, newest first."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of traces (default 10)")),
		),
		mcpUserTraces(deps),
	)

	s.AddTool(
		mcp.NewTool("performance_metrics",
			mcp.WithDescription("Aggregate request counts, success rate and per-component latency."),
		),
		mcpPerformanceMetrics(deps),
	)

	s.AddTool(
		mcp.NewTool("classify",
			mcp.WithDescription("Classify a text into an intent and show whether it would need clarification."),
			mcp.WithString("text", mcp.Description("Text to classify"), mcp.Required()),
		),
		mcpClassify(deps),
	)

	return s
}

func mcpGetTrace(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("trace_id")
		if err != nil {
			return mcpError("trace_id is required"), nil
		}
		tr, ok := deps.Tracer.GetTrace(id)
		if !ok {
			return mcpError(fmt.Sprintf("trace %q not found", id)), nil
		}
		return mcpJSON(tr)
	}
}

func mcpUserTraces(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 || limit > 100 {
			limit = 10
		}
		traces := deps.Tracer.GetUserTraces(userID, limit)
		if traces == nil {
			traces = []tracing.Trace{}
		}
		return mcpJSON(traces)
	}
}

func mcpPerformanceMetrics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Tracer.GetPerformanceMetrics())
	}
}

func mcpClassify(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		return mcpJSON(classify(deps.Classifier, text))
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

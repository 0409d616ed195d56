package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/switchboard/internal/model"
)

func newProviderServer() *server.MCPServer {
	s := server.NewMCPServer("fake-provider", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(
		mcp.NewTool("digitalocean__list_apps", mcp.WithDescription("list apps")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(`{"apps":[{"name":"prod-api"}]}`), nil
		},
	)
	s.AddTool(
		mcp.NewTool("supabase__query",
			mcp.WithDescription("run sql"),
			mcp.WithString("args", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			sql, err := req.RequireString("args")
			if err != nil {
				return mcp.NewToolResultError("args is required"), nil
			}
			if sql == "boom" {
				return mcp.NewToolResultError("syntax error"), nil
			}
			return mcp.NewToolResultText("ran: " + sql), nil
		},
	)
	s.AddTool(
		mcp.NewTool("media__vision",
			mcp.WithDescription("describe an image"),
			mcp.WithString("text", mcp.Required()),
			mcp.WithString("user_id", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			text, err := req.RequireString("text")
			if err != nil {
				return mcp.NewToolResultError("text is required"), nil
			}
			user, err := req.RequireString("user_id")
			if err != nil {
				return mcp.NewToolResultError("user_id is required"), nil
			}
			return mcp.NewToolResultText("vision for " + user + ": " + text), nil
		},
	)
	return s
}

func dialInProcess(t *testing.T) ToolCaller {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := connect(ctx, transport.NewInProcessTransport(newProviderServer()), "switchboard-test", "0.0.1")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newInProcessExecutor(t *testing.T) *MCPExecutor {
	t.Helper()
	return NewMCPExecutor(dialInProcess(t))
}

func TestMCPExecutor_ListApps(t *testing.T) {
	e := newInProcessExecutor(t)

	res, err := e.Execute(context.Background(), listApps)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %#v, want decoded JSON", res.Data)
	}
	apps, _ := data["apps"].([]any)
	if len(apps) != 1 {
		t.Errorf("apps = %v", data["apps"])
	}
}

func TestMCPExecutor_PassesArgs(t *testing.T) {
	e := newInProcessExecutor(t)

	res, err := e.Execute(context.Background(), Command{Provider: ProviderSupabase, Action: "query", Args: "select 1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Text != "ran: select 1" || res.Data != nil {
		t.Errorf("result = %+v", res)
	}
}

func TestMCPExecutor_ToolError(t *testing.T) {
	e := newInProcessExecutor(t)

	_, err := e.Execute(context.Background(), Command{Provider: ProviderSupabase, Action: "query", Args: "boom"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrProviderUnavailable) {
		t.Error("tool error must not be reported as provider unavailable")
	}
}

type failingCaller struct{}

func (failingCaller) CallTool(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return nil, errors.New("connection reset")
}

func TestMCPExecutor_TransportErrorIsUnavailable(t *testing.T) {
	e := NewMCPExecutor(failingCaller{})
	_, err := e.Execute(context.Background(), listApps)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestDispatcherOverMCP(t *testing.T) {
	d := NewDispatcher(newInProcessExecutor(t), nil, DispatcherOptions{})
	res, err := d.Dispatch(context.Background(), listApps, "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Emulated {
		t.Error("live provider result marked emulated")
	}
}

func TestMCPToolRunner(t *testing.T) {
	r := NewMCPToolRunner(dialInProcess(t))
	msg := model.Message{User: model.User{ID: "u1"}, ChatID: "c1", Text: "what is on this photo"}

	out, err := r.Run(context.Background(), "vision", msg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "vision for u1: what is on this photo" {
		t.Errorf("out = %q", out)
	}

	if _, err := r.Run(context.Background(), "dalle", msg); err == nil {
		t.Error("unknown media tool should fail")
	}
}

func TestMCPToolRunner_TransportErrorIsUnavailable(t *testing.T) {
	r := NewMCPToolRunner(failingCaller{})
	_, err := r.Run(context.Background(), "vision", model.Message{Text: "x"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

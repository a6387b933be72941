// Package mcptools bridges MCP servers into the tool registry. Each
// discovered server tool becomes a registry tool named
// mcp_<server>_<tool>, invoked over the server's stdio transport.
package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/voassist/vo/internal/config"
	"github.com/voassist/vo/internal/tools"
)

const callTimeout = 60 * time.Second

// Bridge owns the MCP client connections for the process lifetime.
type Bridge struct {
	mu      sync.Mutex
	clients []*mcpclient.Client
}

// NewBridge returns an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Connect starts every configured server, discovers its tools, and
// registers them. A server that fails to connect is logged and skipped;
// one broken server must not take the assistant down.
func (b *Bridge) Connect(ctx context.Context, servers []config.MCPServer, reg *tools.Registry) {
	for _, srv := range servers {
		if err := b.connectOne(ctx, srv, reg); err != nil {
			slog.Warn("mcp: server connect failed", "server", srv.Name, "error", err)
		}
	}
}

func (b *Bridge) connectOne(ctx context.Context, srv config.MCPServer, reg *tools.Registry) error {
	client, err := mcpclient.NewStdioMCPClient(srv.Command, nil, srv.Args...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "vo", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	registered := 0
	for _, mt := range listed.Tools {
		t := bridgeTool(srv.Name, mt, client)
		if err := reg.Register(t); err != nil {
			slog.Warn("mcp: tool name collision", "server", srv.Name, "tool", t.Name)
			continue
		}
		registered++
	}

	b.mu.Lock()
	b.clients = append(b.clients, client)
	b.mu.Unlock()

	slog.Info("mcp: server connected", "server", srv.Name, "tools", registered)
	return nil
}

// Close shuts down every connected server.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		_ = c.Close()
	}
	b.clients = nil
}

func bridgeTool(server string, mt mcpgo.Tool, client *mcpclient.Client) tools.Tool {
	params := map[string]any{
		"type":       mt.InputSchema.Type,
		"properties": mt.InputSchema.Properties,
	}
	if len(mt.InputSchema.Required) > 0 {
		req := make([]any, len(mt.InputSchema.Required))
		for i, r := range mt.InputSchema.Required {
			req[i] = r
		}
		params["required"] = req
	}

	remoteName := mt.Name
	return tools.Tool{
		Name:        fmt.Sprintf("mcp_%s_%s", server, remoteName),
		Description: mt.Description,
		Parameters:  params,
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			cctx, cancel := context.WithTimeout(ctx, callTimeout)
			defer cancel()

			req := mcpgo.CallToolRequest{}
			req.Params.Name = remoteName
			req.Params.Arguments = args

			result, err := client.CallTool(cctx, req)
			if err != nil {
				return "", fmt.Errorf("mcp %s: %w", remoteName, err)
			}

			out := renderContent(result.Content)
			if result.IsError {
				return "", fmt.Errorf("mcp %s: %s", remoteName, out)
			}
			return out, nil
		},
	}
}

func renderContent(blocks []mcpgo.Content) string {
	var parts []string
	for _, block := range blocks {
		if text, ok := block.(mcpgo.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

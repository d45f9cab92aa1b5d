package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServerConfig describes one external MCP server whose tools are exposed
// as an action category.
type MCPServerConfig struct {
	Name      string            `yaml:"name" json:"name"`
	Transport string            `yaml:"transport" json:"transport"` // stdio, sse, streamable_http
	Command   string            `yaml:"command" json:"command"`
	Args      []string          `yaml:"args" json:"args"`
	Env       map[string]string `yaml:"env" json:"env"`
	URL       string            `yaml:"url" json:"url"`
	Headers   map[string]string `yaml:"headers" json:"headers"`
	// Category is the action category the server's tools are gated under.
	// Defaults to "automation.trigger".
	Category string `yaml:"category" json:"category"`
	// RollbackTool names the server tool invoked to undo an executed tool
	// call. Servers without one get no rollback descriptor, so the gate
	// denies their actions.
	RollbackTool string `yaml:"rollback_tool" json:"rollback_tool"`
}

// MCPHandler exposes one MCP server's tools as an action category.
type MCPHandler struct {
	serverName   string
	rollbackTool string
	client       mcpclient.MCPClient
	logger       *slog.Logger
}

// mcpRollback is the undo descriptor: the original call, replayed through
// the server's rollback tool.
type mcpRollback struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// ConnectMCP connects to an MCP server, performs the initialization
// handshake, and returns a handler for its tools.
func ConnectMCP(ctx context.Context, cfg MCPServerConfig, logger *slog.Logger) (*MCPHandler, error) {
	c, err := createClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "nafsi",
		Version: "0.1.0",
	}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("MCP initialize for %q: %w", cfg.Name, err)
	}

	listResp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools for %q: %w", cfg.Name, err)
	}

	if cfg.RollbackTool != "" {
		found := false
		for _, t := range listResp.Tools {
			if t.Name == cfg.RollbackTool {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("configured rollback tool %q not exposed by server %q", cfg.RollbackTool, cfg.Name)
		}
	}

	logger.Info("MCP server connected",
		slog.String("server", cfg.Name),
		slog.String("transport", cfg.Transport),
		slog.Int("tools_discovered", len(listResp.Tools)),
		slog.String("rollback_tool", cfg.RollbackTool),
	)

	return &MCPHandler{
		serverName:   cfg.Name,
		rollbackTool: cfg.RollbackTool,
		client:       c,
		logger:       logger,
	}, nil
}

// CaptureRollback serializes the call so it can be replayed through the
// server's rollback tool. Servers without a rollback tool get no descriptor.
func (h *MCPHandler) CaptureRollback(_ context.Context, name string, params map[string]any) (string, error) {
	if h.rollbackTool == "" {
		return "", fmt.Errorf("%w: server %q exposes no rollback tool", ErrNoRollback, h.serverName)
	}
	data, err := json.Marshal(mcpRollback{Tool: name, Params: params})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoRollback, err)
	}
	return string(data), nil
}

// Execute calls the named tool on the MCP server.
func (h *MCPHandler) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	h.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", h.serverName),
		slog.String("tool", name),
	)

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = name
	callReq.Params.Arguments = params

	callResult, err := h.client.CallTool(ctx, callReq)
	if err != nil {
		return "", fmt.Errorf("MCP call to %s/%s failed: %w", h.serverName, name, err)
	}

	output := formatMCPContent(callResult.Content)
	if callResult.IsError {
		return output, fmt.Errorf("MCP tool %s/%s reported an error", h.serverName, name)
	}
	return output, nil
}

// Rollback replays the recorded call through the server's rollback tool.
func (h *MCPHandler) Rollback(ctx context.Context, _ string, descriptor string) error {
	var rb mcpRollback
	if err := json.Unmarshal([]byte(descriptor), &rb); err != nil {
		return fmt.Errorf("parsing rollback descriptor: %w", err)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = h.rollbackTool
	callReq.Params.Arguments = map[string]any{
		"tool":   rb.Tool,
		"params": rb.Params,
	}

	result, err := h.client.CallTool(ctx, callReq)
	if err != nil {
		return fmt.Errorf("MCP rollback via %s/%s failed: %w", h.serverName, h.rollbackTool, err)
	}
	if result.IsError {
		return fmt.Errorf("MCP rollback tool %s/%s reported an error", h.serverName, h.rollbackTool)
	}
	return nil
}

// Close shuts down the MCP client connection.
func (h *MCPHandler) Close() error {
	return h.client.Close()
}

// formatMCPContent converts MCP content items to a single string.
func formatMCPContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
		} else {
			data, _ := json.Marshal(c)
			sb.WriteString(string(data))
		}
	}
	return sb.String()
}

// createClient creates the appropriate MCP client for the transport type.
func createClient(cfg MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+os.ExpandEnv(v))
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandHeaders(cfg.Headers)))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandHeaders(cfg.Headers)))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

func expandHeaders(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}

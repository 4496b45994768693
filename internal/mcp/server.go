// Package mcp exposes the payment tools over the Model Context Protocol,
// both as a streamable HTTP handler and on stdio.
package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flemzord/tabkeeper/internal/checkout"
	"github.com/flemzord/tabkeeper/internal/tool"
)

// DefaultPath is where the HTTP handler is mounted.
const DefaultPath = "/mcp"

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Path    string
	Policy  tool.Policy
	Logger  *slog.Logger
}

// Server bridges a tool.Registry to an MCP server.
type Server struct {
	registry *tool.Registry
	policy   tool.Policy
	logger   *slog.Logger
	mcp      *server.MCPServer
	http     *server.StreamableHTTPServer
	path     string
}

// NewServer exports every tool the policy allows.
func NewServer(registry *tool.Registry, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "tabkeeper"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		registry: registry,
		policy:   opts.Policy,
		logger:   opts.Logger,
		path:     opts.Path,
	}
	s.mcp = server.NewMCPServer(opts.Name, opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range registry.Allowed(opts.Policy) {
		s.mcp.AddTool(mcpgo.NewToolWithRawSchema(t.Name(), t.Description(), t.Schema()), s.handler(t.Name()))
	}
	s.http = server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath(opts.Path))
	return s
}

// Path returns the HTTP mount path.
func (s *Server) Path() string { return s.path }

// Handler returns the streamable HTTP handler.
func (s *Server) Handler() http.Handler { return s.http }

// ServeStdio serves MCP on in and out until ctx is done or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// HandleMessage processes one raw JSON-RPC message.
func (s *Server) HandleMessage(ctx context.Context, msg json.RawMessage) any {
	return s.mcp.HandleMessage(ctx, msg)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return errorResult(err), nil
		}

		out, err := s.registry.Execute(ctx, name, args, s.policy, tool.ExecutionEnv{})
		if err != nil {
			s.logger.Warn("mcp tool call failed", "tool", name, "error", err)
			return errorResult(err), nil
		}

		res := mcpgo.NewToolResultText(out.Content)
		res.IsError = out.IsError
		return res, nil
	}
}

// errorResult renders registry errors (denials, rate limits, bad
// arguments) in the same envelope as domain errors.
func errorResult(err error) *mcpgo.CallToolResult {
	body, _ := json.Marshal(checkout.Respond(nil, err))
	res := mcpgo.NewToolResultText(string(body))
	res.IsError = true
	return res
}

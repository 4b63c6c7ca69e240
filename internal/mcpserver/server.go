// Package mcpserver exposes the capability catalog as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pricebot/internal/domain"
)

// Turn is the slice of agent.Turn the MCP server drives.
type Turn interface {
	Capabilities(conversationID string) []domain.CapabilityDescriptor
	Invoke(ctx context.Context, conversationID string, calls []domain.ToolCall, locale string) ([]domain.Envelope, error)
	Defer(ctx context.Context, conversationID string, envelopes []domain.Envelope) string
}

type Config struct {
	Name           string
	Version        string
	ConversationID string
	Turn           Turn
	Logger         *slog.Logger
}

// Server registers one MCP tool per capability. Each MCP call is a one-call
// turn whose deferred work is submitted after the answer is built.
type Server struct {
	mcp          *server.MCPServer
	turn         Turn
	conversation string
	logger       *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		mcp: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithResourceCapabilities(false, false),
			server.WithLogging(),
		),
		turn:         cfg.Turn,
		conversation: cfg.ConversationID,
		logger:       cfg.Logger.With("component", "mcp"),
	}
	for _, d := range cfg.Turn.Capabilities(cfg.ConversationID) {
		s.mcp.AddTool(s.toolFor(d), s.callTool)
	}
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio blocks serving JSON-RPC on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving MCP over stdio", "conversation", s.conversation)
	return server.ServeStdio(s.mcp)
}

// HandleMessage processes one raw JSON-RPC message.
func (s *Server) HandleMessage(ctx context.Context, msg json.RawMessage) mcp.JSONRPCMessage {
	return s.mcp.HandleMessage(ctx, msg)
}

func (s *Server) toolFor(d domain.CapabilityDescriptor) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(d.Description)}

	props, _ := d.Parameters["properties"].(map[string]any)
	required := requiredSet(d.Parameters["required"])
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		var propOpts []mcp.PropertyOption
		if desc, ok := prop["description"].(string); ok {
			propOpts = append(propOpts, mcp.Description(desc))
		}
		if required[name] {
			propOpts = append(propOpts, mcp.Required())
		}
		switch prop["type"] {
		case "string":
			opts = append(opts, mcp.WithString(name, propOpts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, propOpts...))
		case "number", "integer":
			opts = append(opts, mcp.WithNumber(name, propOpts...))
		default:
			s.logger.Warn("unsupported parameter type, not advertised", "tool", d.Name, "param", name, "type", prop["type"])
		}
	}
	return mcp.NewTool(string(d.Name), opts...)
}

func requiredSet(v any) map[string]bool {
	set := map[string]bool{}
	switch req := v.(type) {
	case []string:
		for _, r := range req {
			set[r] = true
		}
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				set[name] = true
			}
		}
	}
	return set
}

func (s *Server) callTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := "{}"
	if len(request.Params.Arguments) > 0 {
		data, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
		}
		args = string(data)
	}
	call := domain.ToolCall{ID: uuid.NewString(), Name: request.Params.Name, Arguments: args}

	envelopes, err := s.turn.Invoke(ctx, s.conversation, []domain.ToolCall{call}, "")
	if len(envelopes) != 1 {
		return mcp.NewToolResultError("tool produced no result"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(envelopes[0].Answer), nil
	}
	if task := s.turn.Defer(ctx, s.conversation, envelopes); task != "" {
		s.logger.Info("deferred work submitted", "tool", call.Name, "task", task)
	}
	return mcp.NewToolResultText(envelopes[0].Answer), nil
}

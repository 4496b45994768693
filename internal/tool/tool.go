// Package tool defines the tool interface and execution model through which
// conversational agents operate on session tabs. Every call goes through a
// registered tool, is rate limited per session and is audited.
package tool

import (
	"context"
	"encoding/json"

	"github.com/flemzord/tabkeeper/internal/session"
)

// Scope declares what kind of access a tool requires.
// Every tool must declare at least one scope.
type Scope string

// Scope values for tool access requirements.
const (
	ScopeReadOnly  Scope = "read_only"
	ScopeReadWrite Scope = "read_write"
	ScopeNetwork   Scope = "network"
)

// Tool is the interface that all tabkeeper tools implement.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	Description() string

	// Schema returns a JSON Schema describing the tool's parameters.
	Schema() json.RawMessage

	// Scopes returns the access scopes this tool requires.
	// Must return at least one scope.
	Scopes() []Scope

	// DefaultPolicy returns the approval level used when no explicit
	// policy is configured.
	DefaultPolicy() ApprovalLevel

	// Execute runs the tool with the given arguments and environment.
	Execute(ctx context.Context, args json.RawMessage, env ExecutionEnv) (Output, error)
}

// ExecutionEnv carries the caller's identity into a tool call.
type ExecutionEnv struct {
	// Session is the session the call acts on. Surfaces without a bound
	// session (MCP, for one) leave it empty and pass session_id in the
	// arguments instead.
	Session session.Context
}

// Output is the result of a tool execution.
type Output struct {
	// Content is the output text from the tool.
	Content string

	// IsError indicates whether the output represents an error condition.
	IsError bool
}

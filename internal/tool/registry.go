package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/flemzord/tabkeeper/internal/security"
)

// Schema is a tool's name paired with its JSON Schema, returned by Registry.Schemas.
type Schema struct {
	Name   string
	Schema json.RawMessage
}

// Registry holds registered tools and orchestrates their execution
// through policy, rate limiting and audit.
// It is instance-based (not global) for better testability.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	auditLogger *security.AuditLogger
	rateLimiter *security.RateLimiter
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// SetAuditLogger configures audit logging for tool executions.
func (r *Registry) SetAuditLogger(logger *security.AuditLogger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auditLogger = logger
}

// SetRateLimiter configures rate limiting for tool executions.
func (r *Registry) SetRateLimiter(limiter *security.RateLimiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = limiter
}

// Register adds a tool to the registry.
// It returns ErrNoScopes if the tool declares no scopes,
// and ErrDuplicateTool if a tool with the same name is already registered.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return ErrEmptyToolName
	}
	if len(t.Scopes()) == 0 {
		return fmt.Errorf("%w: %s", ErrNoScopes, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}

	r.tools[name] = t
	return nil
}

// Get returns the tool with the given name, or ErrToolNotFound.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Schemas returns all registered tool schemas sorted by name.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]Schema, 0, len(r.tools))
	for name, t := range r.tools {
		schemas = append(schemas, Schema{
			Name:   name,
			Schema: t.Schema(),
		})
	}
	slices.SortFunc(schemas, func(a, b Schema) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return schemas
}

// Names returns all registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Allowed returns the tools the policy lets run, sorted by name.
func (r *Registry) Allowed(policy Policy) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if ResolvePolicy(policy, t) == ApprovalAllow {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b Tool) int {
		return cmp.Compare(strings.TrimSpace(a.Name()), strings.TrimSpace(b.Name()))
	})
	return out
}

// Execute orchestrates tool execution: lookup → rate limit → policy
// resolution → execute → audit. The rate limit is keyed by the caller's
// session, falling back to the tool name for anonymous calls.
func (r *Registry) Execute(
	ctx context.Context,
	name string,
	args json.RawMessage,
	policy Policy,
	env ExecutionEnv,
) (Output, error) {
	t, err := r.Get(name)
	if err != nil {
		return Output{}, err
	}

	r.mu.RLock()
	rl := r.rateLimiter
	al := r.auditLogger
	r.mu.RUnlock()

	key := env.Session.ID
	if key == "" {
		key = "tool:" + name
	}
	if err := rl.Allow(security.KindToolCall, key); err != nil {
		al.Log(security.AuditEvent{
			Type:      security.EventRateLimit,
			SessionID: env.Session.ID,
			ToolName:  name,
			Detail:    "tool_call rate limit exceeded",
		})
		return Output{}, fmt.Errorf("tool %s: %w", name, err)
	}

	// Truncate args to prevent audit log bloat from large payloads.
	al.Log(security.AuditEvent{
		Type:      security.EventToolCall,
		SessionID: env.Session.ID,
		ToolName:  name,
		Detail:    truncateForAudit(string(args)),
	})

	if level := ResolvePolicy(policy, t); level != ApprovalAllow {
		al.Log(security.AuditEvent{
			Type:      security.EventToolResult,
			SessionID: env.Session.ID,
			ToolName:  name,
			Detail:    "denied by policy",
			Metadata:  map[string]string{"is_error": "true"},
		})
		return Output{}, fmt.Errorf("%w: %s", ErrDenied, name)
	}

	output, err := t.Execute(ctx, args, env)

	detail := truncateForAudit(output.Content)
	if err != nil {
		detail = "error: " + err.Error()
	}
	al.Log(security.AuditEvent{
		Type:      security.EventToolResult,
		SessionID: env.Session.ID,
		ToolName:  name,
		Detail:    detail,
		Metadata: map[string]string{
			"is_error": fmt.Sprintf("%v", output.IsError || err != nil),
		},
	})

	return output, err
}

// maxAuditDetailLen is the maximum length of audit detail strings.
// Longer values are truncated to prevent log bloat from large tool outputs.
const maxAuditDetailLen = 4096

// truncateForAudit truncates a string to maxAuditDetailLen, appending
// a truncation indicator if the string was shortened.
// It walks back to a valid UTF-8 rune boundary to avoid splitting multi-byte
// characters when the cut falls mid-rune.
func truncateForAudit(s string) string {
	if len(s) <= maxAuditDetailLen {
		return s
	}
	i := maxAuditDetailLen
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "...(truncated)"
}

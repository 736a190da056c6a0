// Package tools implements the write-tool orchestrator: every mutation tool
// runs the same pipeline of account authorization, vagueness detection,
// domain validation, dry-run preview, and token-confirmed execution with
// snapshot capture. Read tools share the registry but skip the write stages.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/jkaninda/adgate/internal/authz"
)

// Tool is the interface all gateway tools implement.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "update_budget").
	Name() string

	// Description returns a human-readable description shown to callers.
	Description() string

	// InputSchema returns a JSON Schema object describing the tool's
	// parameters, sent to MCP clients as the tool's input schema.
	InputSchema() map[string]any

	// Execute runs the tool. Mutation tools return either a preview result
	// carrying a confirmation token, or an executed result, depending on
	// whether the request presented a valid token.
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Request is one tool invocation. The Gate carries the caller's verified
// approved-account set for this request; a nil Gate denies all account access.
type Request struct {
	UserID string
	Intent string // Free-text caller intent, scanned for vague quantifiers.
	Params map[string]any
	Gate   *authz.Gate
}

// Result is the tool response. Exactly one of two shapes is populated:
// a preview (RequiresApproval, Preview, ConfirmationToken set) or an
// executed result (Data set).
type Result struct {
	Success           bool           `json:"success"`
	RequiresApproval  bool           `json:"requiresApproval,omitempty"`
	Preview           string         `json:"preview,omitempty"`
	ConfirmationToken string         `json:"confirmationToken,omitempty"`
	Message           string         `json:"message,omitempty"`
	Data              map[string]any `json:"data,omitempty"`
}

// PreviewResult builds the preview-shape response.
func PreviewResult(preview, token, message string) *Result {
	return &Result{
		Success:           true,
		RequiresApproval:  true,
		Preview:           preview,
		ConfirmationToken: token,
		Message:           message,
	}
}

// ExecutedResult builds the executed-shape response.
func ExecutedResult(data map[string]any) *Result {
	return &Result{Success: true, Data: data}
}

// StringParam extracts a string parameter, or "" when absent or mistyped.
func StringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// FloatParam extracts a numeric parameter. JSON numbers arrive as float64;
// string-encoded numbers are accepted too since some MCP clients send them.
func FloatParam(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %q is not a number: %q", key, v)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("parameter %q is required", key)
	default:
		return 0, fmt.Errorf("parameter %q is not a number", key)
	}
}

// stringParams flattens scalar params to strings for the vagueness detector.
func stringParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		}
	}
	return out
}

// Registry holds available tools keyed by name.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all registered tools, ordered by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

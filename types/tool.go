package types

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// ToolHandler executes the host-side implementation of a registered tool.
// Handlers run outside the restricted execution context; sandboxed code
// never receives network access or credentials, only the handler's result.
type ToolHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ToolDescriptor is the metadata for one registered external tool.
// Immutable after registration for a session's lifetime.
type ToolDescriptor struct {
	Server       string          `json:"server" yaml:"server"`
	Name         string          `json:"name" yaml:"name"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Example      string          `json:"example,omitempty" yaml:"example,omitempty"`

	// Handler is host-side only and never serialized into stubs or logs.
	Handler ToolHandler `json:"-" yaml:"-"`
}

// nameRe constrains server and tool names to path-safe identifiers so a
// descriptor can never smuggle traversal sequences into the stub tree.
var nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// Validate reports whether the descriptor is well-formed.
func (d *ToolDescriptor) Validate() error {
	if !nameRe.MatchString(d.Server) {
		return NewError(ErrToolRegistration, fmt.Sprintf("invalid server name %q", d.Server))
	}
	if !nameRe.MatchString(d.Name) {
		return NewError(ErrToolRegistration, fmt.Sprintf("invalid tool name %q", d.Name))
	}
	if len(d.InputSchema) > 0 && !json.Valid(d.InputSchema) {
		return NewError(ErrToolRegistration, fmt.Sprintf("tool %s/%s: input schema is not valid JSON", d.Server, d.Name))
	}
	if len(d.OutputSchema) > 0 && !json.Valid(d.OutputSchema) {
		return NewError(ErrToolRegistration, fmt.Sprintf("tool %s/%s: output schema is not valid JSON", d.Server, d.Name))
	}
	return nil
}

// Key returns the unique "server/name" registry key.
func (d *ToolDescriptor) Key() string {
	return d.Server + "/" + d.Name
}

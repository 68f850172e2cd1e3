// Package security implements the fail-closed pre-execution validator.
// Submitted code is parsed into a real ECMAScript AST and walked; any
// construct on the denylist — or anything the parser cannot classify —
// rejects the request before it ever reaches a sandbox backend.
package security

import (
	"fmt"
	"time"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"go.uber.org/zap"

	"github.com/BaSui01/codexec/types"
)

// ValidationResult is the outcome of one validation pass.
type ValidationResult struct {
	Allowed    bool
	Violations []types.SecurityViolation
}

// Config tunes the validator. The built-in denylist always applies;
// config can only add restrictions, never remove them.
type Config struct {
	// ExtraDeniedIdentifiers extends the identifier denylist.
	ExtraDeniedIdentifiers []string
	// MaxCodeBytes rejects oversized submissions outright.
	MaxCodeBytes int
}

// DefaultConfig returns the default validator configuration.
func DefaultConfig() Config {
	return Config{MaxCodeBytes: 256 * 1024}
}

// Validator performs static analysis over submitted code.
type Validator struct {
	config Config
	denied map[string]types.ViolationKind
	logger *zap.Logger
}

// deniedIdentifiers maps globals that guest code must never reference
// to the violation kind reported. The sandbox runtime does not provide
// most of these, but the validator rejects them anyway: validation is
// the outer wall, capability construction the inner one.
var deniedIdentifiers = map[string]types.ViolationKind{
	"eval":           types.ViolationDynamicCode,
	"Function":       types.ViolationDynamicCode,
	"require":        types.ViolationRestrictedImport,
	"importScripts":  types.ViolationRestrictedImport,
	"process":        types.ViolationForbiddenBuiltin,
	"child_process":  types.ViolationRestrictedImport,
	"globalThis":     types.ViolationCapabilityEscape,
	"Reflect":        types.ViolationCapabilityEscape,
	"Proxy":          types.ViolationCapabilityEscape,
	"fetch":          types.ViolationForbiddenBuiltin,
	"XMLHttpRequest": types.ViolationForbiddenBuiltin,
	"WebSocket":      types.ViolationForbiddenBuiltin,
	"Worker":         types.ViolationForbiddenBuiltin,
}

// deniedMembers are property names whose access lets code walk object
// graphs back to removed capabilities.
var deniedMembers = map[string]types.ViolationKind{
	"constructor": types.ViolationCapabilityEscape,
	"__proto__":   types.ViolationCapabilityEscape,
	"eval":        types.ViolationDynamicCode,
}

// NewValidator creates a validator with the given config.
func NewValidator(config Config, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxCodeBytes <= 0 {
		config.MaxCodeBytes = DefaultConfig().MaxCodeBytes
	}
	denied := make(map[string]types.ViolationKind, len(deniedIdentifiers)+len(config.ExtraDeniedIdentifiers))
	for name, kind := range deniedIdentifiers {
		denied[name] = kind
	}
	for _, name := range config.ExtraDeniedIdentifiers {
		denied[name] = types.ViolationForbiddenBuiltin
	}
	return &Validator{
		config: config,
		denied: denied,
		logger: logger.With(zap.String("component", "security")),
	}
}

// Validate statically analyzes code and returns whether it may run.
// Fail-closed: unsupported languages, oversized input, and parse
// failures are all rejections, not pass-throughs.
func (v *Validator) Validate(code string, language types.Language) ValidationResult {
	now := time.Now().UTC()

	if language != types.LangJavaScript {
		return rejected(types.SecurityViolation{
			Kind:      types.ViolationUnsupportedLanguage,
			Detail:    fmt.Sprintf("language %q is not executable in this sandbox", language),
			Timestamp: now,
		})
	}
	if len(code) > v.config.MaxCodeBytes {
		return rejected(types.SecurityViolation{
			Kind:      types.ViolationUnparseable,
			Detail:    fmt.Sprintf("code exceeds %d bytes", v.config.MaxCodeBytes),
			Timestamp: now,
		})
	}

	prog, err := parser.ParseFile(nil, "agent.js", code, 0)
	if err != nil {
		// Anything the parser cannot classify as well-formed is rejected.
		return rejected(types.SecurityViolation{
			Kind:      types.ViolationUnparseable,
			Detail:    "code could not be parsed",
			Timestamp: now,
		})
	}

	var violations []types.SecurityViolation
	record := func(kind types.ViolationKind, detail string, node ast.Node) {
		violations = append(violations, types.SecurityViolation{
			Kind:      kind,
			Detail:    detail,
			Snippet:   snippet(code, node),
			Timestamp: now,
		})
	}
	inspect(prog, func(n any) {
		switch node := n.(type) {
		case *ast.Identifier:
			name := node.Name.String()
			if kind, ok := v.denied[name]; ok {
				record(kind, "reference to restricted identifier "+name, node)
			}
		case *ast.DotExpression:
			name := node.Identifier.Name.String()
			if kind, ok := deniedMembers[name]; ok {
				record(kind, "access to restricted property "+name, node)
			}
		case *ast.BracketExpression:
			switch member := node.Member.(type) {
			case *ast.StringLiteral:
				name := member.Value.String()
				if kind, ok := deniedMembers[name]; ok {
					record(kind, "computed access to restricted property "+name, node)
				}
			case *ast.NumberLiteral:
				// Numeric indexing cannot name a property on the denylist.
			default:
				// A computed key built at runtime can spell any property,
				// including constructor chains; reject rather than guess.
				record(types.ViolationCapabilityEscape, "computed property access with a dynamic key", node)
			}
		case *ast.WithStatement:
			record(types.ViolationCapabilityEscape, "with statement is not allowed", node)
		case *ast.StringLiteral:
			if hasTraversal(node.Value.String()) {
				record(types.ViolationPathTraversal, "path literal contains a traversal sequence", node)
			}
		}
	})

	if len(violations) > 0 {
		v.logger.Warn("code rejected",
			zap.Int("violations", len(violations)),
			zap.String("first_kind", string(violations[0].Kind)))
		return ValidationResult{Allowed: false, Violations: violations}
	}
	return ValidationResult{Allowed: true}
}

func rejected(violation types.SecurityViolation) ValidationResult {
	return ValidationResult{Allowed: false, Violations: []types.SecurityViolation{violation}}
}

// hasTraversal flags ".." used as a path segment.
func hasTraversal(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			before := i == 0 || s[i-1] == '/' || s[i-1] == '\\'
			after := i+2 == len(s) || s[i+2] == '/' || s[i+2] == '\\'
			if before && after {
				return true
			}
		}
	}
	return false
}

// snippet extracts a short, single-line excerpt around the offending node.
func snippet(code string, node ast.Node) string {
	start := int(node.Idx0()) - 1
	end := int(node.Idx1()) - 1
	if start < 0 || start >= len(code) {
		return ""
	}
	if end > len(code) {
		end = len(code)
	}
	if end-start > 80 {
		end = start + 80
	}
	out := code[start:end]
	for i := 0; i < len(out); i++ {
		if out[i] == '\n' {
			return out[:i]
		}
	}
	return out
}

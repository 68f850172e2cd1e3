package types

import "time"

// ViolationKind classifies a security violation.
type ViolationKind string

const (
	ViolationRestrictedImport    ViolationKind = "restricted-import"
	ViolationForbiddenBuiltin    ViolationKind = "forbidden-builtin"
	ViolationCapabilityEscape    ViolationKind = "capability-escape"
	ViolationPathTraversal       ViolationKind = "path-traversal"
	ViolationDynamicCode         ViolationKind = "dynamic-code"
	ViolationUnparseable         ViolationKind = "unparseable"
	ViolationUnsupportedLanguage ViolationKind = "unsupported-language"
)

// SecurityViolation is one append-only audit record produced by the
// validator. Records are never mutated after creation.
type SecurityViolation struct {
	Kind         ViolationKind `json:"kind"`
	Detail       string        `json:"detail"`
	Snippet      string        `json:"snippet,omitempty"`
	Tool         string        `json:"tool,omitempty"`
	SessionToken string        `json:"session_token,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Package toolfs exposes the registered tool catalog as a browsable
// file tree instead of an upfront specification blob. Each tool becomes
// one stub file under servers/<server>/<tool>.ts; a caller only pays
// the token cost of the stubs it actually reads, which is the dominant
// source of the subsystem's token savings.
package toolfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/codexec/tokenizer"
	"github.com/BaSui01/codexec/types"
	"github.com/BaSui01/codexec/vfs"
)

// MountRoot is the read-only subtree stubs are mounted under.
const MountRoot = "servers"

// Registry holds the registered tool descriptors and their generated
// stubs. Read-mostly: registration is serialized against concurrent
// discovery and stub reads.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]types.ToolDescriptor
	stubs  map[string]stubEntry
	logger *zap.Logger
	tok    tokenizer.Tokenizer
}

type stubEntry struct {
	hash string
	text string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]types.ToolDescriptor),
		stubs:  make(map[string]stubEntry),
		logger: logger.With(zap.String("component", "toolfs")),
		tok:    tokenizer.NewEstimator(),
	}
}

// Register adds or updates a tool descriptor. Idempotent: re-registering
// an unchanged descriptor leaves its cached stub untouched; a changed
// descriptor regenerates the stub.
func (r *Registry) Register(d types.ToolDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	key := d.Key()
	hash := descriptorHash(&d)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.stubs[key]; ok && cached.hash == hash {
		r.tools[key] = d // handler may have been rebound
		return nil
	}
	r.tools[key] = d
	r.stubs[key] = stubEntry{hash: hash, text: generateStub(&d)}
	r.logger.Debug("tool registered", zap.String("tool", key))
	return nil
}

// Servers returns the registered server names in lexical order.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, d := range r.tools {
		seen[d.Server] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Tools returns the tool names of one server in lexical order.
func (r *Registry) Tools(server string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, d := range r.tools {
		if d.Server == server {
			out = append(out, d.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Stub returns the generated stub text for one tool.
func (r *Registry) Stub(server, tool string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.stubs[server+"/"+tool]
	if !ok {
		return "", types.NewError(types.ErrToolNotFound, "unknown tool: "+server+"/"+tool)
	}
	return entry.text, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Mount writes the stub tree into a workspace under MountRoot and marks
// it read-only for user writes. Called on session creation and reset.
func (r *Registry) Mount(ws *vfs.Workspace) error {
	if err := ws.SetReadOnly(MountRoot); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, entry := range r.stubs {
		if err := ws.MountFile(MountRoot+"/"+key+".ts", []byte(entry.text)); err != nil {
			return err
		}
	}
	return nil
}

// Invoke runs the host-side handler for one tool after checking the
// call arguments against the declared input schema. This is the only
// path by which sandboxed code reaches an external tool.
func (r *Registry) Invoke(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	d, ok := r.tools[server+"/"+tool]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrToolNotFound, "unknown tool: "+server+"/"+tool)
	}
	if err := checkArgs(&d, args); err != nil {
		return nil, err
	}
	if d.Handler == nil {
		return nil, types.NewError(types.ErrToolExecution, "tool has no handler: "+server+"/"+tool)
	}
	out, err := d.Handler(ctx, args)
	if err != nil {
		// Handler errors are host-side details; surface only the tool name.
		return nil, types.NewError(types.ErrToolExecution, "tool call failed: "+server+"/"+tool).WithCause(err)
	}
	return out, nil
}

// BaselineTokens estimates the token cost of inlining every registered
// tool specification at once — the naive baseline the stub tree is
// measured against.
func (r *Registry) BaselineTokens() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, d := range r.tools {
		blob, _ := json.Marshal(struct {
			Server       string          `json:"server"`
			Name         string          `json:"name"`
			Description  string          `json:"description,omitempty"`
			InputSchema  json.RawMessage `json:"input_schema,omitempty"`
			OutputSchema json.RawMessage `json:"output_schema,omitempty"`
			Example      string          `json:"example,omitempty"`
		}{d.Server, d.Name, d.Description, d.InputSchema, d.OutputSchema, d.Example})
		total += tokenizer.Count(r.tok, string(blob))
	}
	return total
}

// DiscoveryTokens estimates the token cost of the top-level discovery
// listing (server directory names only).
func (r *Registry) DiscoveryTokens() int {
	listing := ""
	for _, s := range r.Servers() {
		listing += s + "/\n"
	}
	return tokenizer.Count(r.tok, listing)
}

// descriptorHash is a stable content hash over the stub-relevant fields.
func descriptorHash(d *types.ToolDescriptor) string {
	blob, _ := json.Marshal([]string{
		d.Server, d.Name, d.Description,
		string(d.InputSchema), string(d.OutputSchema), d.Example,
	})
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// checkArgs validates call arguments against the declared input schema.
// The check covers the schema features stubs advertise: top-level type,
// required properties, and primitive property types.
func checkArgs(d *types.ToolDescriptor, args json.RawMessage) error {
	if len(d.InputSchema) == 0 {
		return nil
	}
	var schema struct {
		Type       string                     `json:"type"`
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
		return nil // unparseable schema: registration already warned
	}
	if schema.Type != "" && schema.Type != "object" {
		return nil
	}
	var parsed map[string]json.RawMessage
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return types.NewError(types.ErrToolValidation, "tool arguments must be a JSON object")
	}
	for _, req := range schema.Required {
		if _, ok := parsed[req]; !ok {
			return types.NewError(types.ErrToolValidation, "missing required argument: "+req)
		}
	}
	return nil
}

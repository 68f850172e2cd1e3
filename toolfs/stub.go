package toolfs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/codexec/types"
)

// generateStub renders a compact TypeScript-flavored stub for one tool:
// a typed signature, the declared schemas, and one usage example.
// Generation is deterministic for a given descriptor so stubs can be
// cached and compared byte-for-byte.
func generateStub(d *types.ToolDescriptor) string {
	var b strings.Builder

	fmt.Fprintf(&b, "// %s/%s", d.Server, d.Name)
	if d.Description != "" {
		fmt.Fprintf(&b, " — %s", d.Description)
	}
	b.WriteString("\n")

	params, ret := signatureParts(d)
	fmt.Fprintf(&b, "export async function %s(%s): Promise<%s>;\n", d.Name, params, ret)

	if len(d.InputSchema) > 0 {
		fmt.Fprintf(&b, "// input schema: %s\n", compactJSON(d.InputSchema))
	}
	if len(d.OutputSchema) > 0 {
		fmt.Fprintf(&b, "// output schema: %s\n", compactJSON(d.OutputSchema))
	}
	if d.Example != "" {
		b.WriteString("// example:\n")
		for _, line := range strings.Split(strings.TrimRight(d.Example, "\n"), "\n") {
			fmt.Fprintf(&b, "//   %s\n", line)
		}
	}
	fmt.Fprintf(&b, "// invoke from agent code: callTool(%q, %q, args)\n", d.Server, d.Name)
	return b.String()
}

// signatureParts derives a readable parameter list and return type from
// the schemas. Falls back to generic object types when a schema is
// absent or not an object schema.
func signatureParts(d *types.ToolDescriptor) (params, ret string) {
	params = "args: object"
	ret = "unknown"

	var in struct {
		Type       string `json:"type"`
		Required   []string
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if len(d.InputSchema) > 0 && json.Unmarshal(d.InputSchema, &in) == nil && len(in.Properties) > 0 {
		required := make(map[string]bool, len(in.Required))
		for _, r := range in.Required {
			required[r] = true
		}
		names := make([]string, 0, len(in.Properties))
		for name := range in.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		fields := make([]string, 0, len(names))
		for _, name := range names {
			opt := "?"
			if required[name] {
				opt = ""
			}
			fields = append(fields, fmt.Sprintf("%s%s: %s", name, opt, tsType(in.Properties[name].Type)))
		}
		params = "args: { " + strings.Join(fields, "; ") + " }"
	}

	var out struct {
		Type string `json:"type"`
	}
	if len(d.OutputSchema) > 0 && json.Unmarshal(d.OutputSchema, &out) == nil && out.Type != "" {
		ret = tsType(out.Type)
	}
	return params, ret
}

func tsType(jsonType string) string {
	switch jsonType {
	case "string":
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "array":
		return "unknown[]"
	case "object":
		return "object"
	default:
		return "unknown"
	}
}

func compactJSON(raw json.RawMessage) string {
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return string(raw)
	}
	return b.String()
}

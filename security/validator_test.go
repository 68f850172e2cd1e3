package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/codexec/types"
)

func TestValidateAllowsSafeCode(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)

	samples := []string{
		`console.log("hello");`,
		`const doc = callTool("files", "getDocument", { documentId: "d1" });
		 console.log(doc.slice(0, 200));`,
		`const data = fs.readFile("servers/files/getDocument.ts");
		 fs.writeFile("scratch.txt", data);`,
		`let sum = 0; for (let i = 0; i < 100; i++) { sum += i; } sum;`,
		`const s = "version 2.0... loading"; s;`,
		`const a = [1, 2, 3]; a[0] + a[2];`,
		`const o = { name: "x" }; o["name"];`,
	}
	for _, code := range samples {
		result := v.Validate(code, types.LangJavaScript)
		assert.True(t, result.Allowed, "expected allowed: %s", code)
		assert.Empty(t, result.Violations)
	}
}

func TestValidateRejectsDeniedConstructs(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)

	tests := []struct {
		name string
		code string
		kind types.ViolationKind
	}{
		{"eval", `eval("1+1")`, types.ViolationDynamicCode},
		{"function constructor", `new Function("return 1")()`, types.ViolationDynamicCode},
		{"require", `const fs = require("fs")`, types.ViolationRestrictedImport},
		{"process access", `process.exit(1)`, types.ViolationForbiddenBuiltin},
		{"fetch", `fetch("http://169.254.169.254/")`, types.ViolationForbiddenBuiltin},
		{"globalThis", `globalThis.secret`, types.ViolationCapabilityEscape},
		{"reflect", `Reflect.get(o, "x")`, types.ViolationCapabilityEscape},
		{"constructor chain", `("").constructor.constructor("return 1")()`, types.ViolationCapabilityEscape},
		{"proto chain", `({}).__proto__`, types.ViolationCapabilityEscape},
		{"computed constructor", `x["constructor"]`, types.ViolationCapabilityEscape},
		{"dynamic computed key", `var k = "constr" + "uctor"; var F = ({})[k][k]; F("return 7")()`, types.ViolationCapabilityEscape},
		{"variable index", `var i = pick(); obj[i]`, types.ViolationCapabilityEscape},
		{"with statement", `with (obj) { a = 1 }`, types.ViolationCapabilityEscape},
		{"path traversal literal", `fs.readFile("../../etc/passwd")`, types.ViolationPathTraversal},
		{"windows traversal literal", `fs.readFile("..\\secrets")`, types.ViolationPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.code, types.LangJavaScript)
			assert.False(t, result.Allowed)
			require.NotEmpty(t, result.Violations)
			kinds := make([]types.ViolationKind, 0, len(result.Violations))
			for _, violation := range result.Violations {
				kinds = append(kinds, violation.Kind)
			}
			assert.Contains(t, kinds, tt.kind)
		})
	}
}

func TestValidateFailClosed(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)

	t.Run("unparseable code", func(t *testing.T) {
		result := v.Validate(`const x = {`, types.LangJavaScript)
		assert.False(t, result.Allowed)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, types.ViolationUnparseable, result.Violations[0].Kind)
	})

	t.Run("unsupported language", func(t *testing.T) {
		result := v.Validate(`print("hi")`, types.Language("python"))
		assert.False(t, result.Allowed)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, types.ViolationUnsupportedLanguage, result.Violations[0].Kind)
	})

	t.Run("typescript is not executable", func(t *testing.T) {
		result := v.Validate(`const x: number = 1;`, types.LangTypeScript)
		assert.False(t, result.Allowed)
	})

	t.Run("oversized code", func(t *testing.T) {
		small := NewValidator(Config{MaxCodeBytes: 16}, nil)
		result := small.Validate(`console.log("this is longer than sixteen bytes")`, types.LangJavaScript)
		assert.False(t, result.Allowed)
		assert.Equal(t, types.ViolationUnparseable, result.Violations[0].Kind)
	})
}

func TestValidateExtraDenylist(t *testing.T) {
	v := NewValidator(Config{ExtraDeniedIdentifiers: []string{"dangerZone"}}, nil)
	result := v.Validate(`dangerZone()`, types.LangJavaScript)
	assert.False(t, result.Allowed)

	// The built-in list still applies with a custom config.
	result = v.Validate(`eval("1")`, types.LangJavaScript)
	assert.False(t, result.Allowed)
}

func TestViolationSnippets(t *testing.T) {
	v := NewValidator(DefaultConfig(), nil)
	result := v.Validate(`const a = 1;
eval("a + 1");`, types.LangJavaScript)
	require.False(t, result.Allowed)
	require.NotEmpty(t, result.Violations)
	assert.Contains(t, result.Violations[0].Snippet, "eval")
}

// Package optimizer bounds what crosses back into the calling model's
// context window. Strategies are deterministic for a fixed input and
// policy, and never drop data silently: every reduction leaves a marker
// stating how much was omitted.
package optimizer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/codexec/tokenizer"
)

// Strategy selects how oversized output is reduced.
type Strategy string

const (
	StrategyTruncate  Strategy = "truncate"
	StrategySample    Strategy = "sample"
	StrategySummarize Strategy = "summarize"
)

// Policy configures one optimization pass.
type Policy struct {
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	// MaxTokens is the threshold above which the strategy kicks in;
	// output at or below it passes through unchanged.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// SampleHead/SampleTail are the items kept at each end by the
	// sample strategy.
	SampleHead int `json:"sample_head" yaml:"sample_head"`
	SampleTail int `json:"sample_tail" yaml:"sample_tail"`
}

// DefaultPolicy returns the default optimization policy.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:   StrategyTruncate,
		MaxTokens:  1000,
		SampleHead: 5,
		SampleTail: 5,
	}
}

// Metrics is the token accounting for one pass.
type Metrics struct {
	TokensBefore int     `json:"tokens_before"`
	TokensAfter  int     `json:"tokens_after"`
	SavingsRatio float64 `json:"savings_ratio"`
	Reduced      bool    `json:"reduced"`
}

// Result carries the bounded payload and its accounting.
type Result struct {
	Payload string  `json:"payload"`
	Metrics Metrics `json:"metrics"`
}

// Optimizer reduces oversized output under a policy.
type Optimizer struct {
	tok    tokenizer.Tokenizer
	logger *zap.Logger
}

// New creates an optimizer. A nil tokenizer selects the deterministic
// estimator.
func New(tok tokenizer.Tokenizer, logger *zap.Logger) *Optimizer {
	if tok == nil {
		tok = tokenizer.NewEstimator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{tok: tok, logger: logger.With(zap.String("component", "optimizer"))}
}

// Optimize applies the policy to raw output. Input at or below the
// threshold is returned unchanged.
func (o *Optimizer) Optimize(raw string, policy Policy) Result {
	if policy.MaxTokens <= 0 {
		policy.MaxTokens = DefaultPolicy().MaxTokens
	}
	before := tokenizer.Count(o.tok, raw)
	if before <= policy.MaxTokens {
		return Result{
			Payload: raw,
			Metrics: Metrics{TokensBefore: before, TokensAfter: before, SavingsRatio: 0},
		}
	}

	var payload string
	switch policy.Strategy {
	case StrategySample:
		payload = o.sample(raw, policy)
	case StrategySummarize:
		payload = o.summarize(raw, policy)
	default:
		payload = o.truncate(raw, policy, before)
	}

	after := tokenizer.Count(o.tok, payload)
	ratio := 0.0
	if before > 0 {
		ratio = 1 - float64(after)/float64(before)
		if ratio < 0 {
			ratio = 0
		}
	}
	o.logger.Debug("output optimized",
		zap.String("strategy", string(policy.Strategy)),
		zap.Int("tokens_before", before),
		zap.Int("tokens_after", after))
	return Result{
		Payload: payload,
		Metrics: Metrics{TokensBefore: before, TokensAfter: after, SavingsRatio: ratio, Reduced: true},
	}
}

// truncate hard-caps the output at the token budget, cutting on a rune
// boundary and appending an explicit truncation marker.
func (o *Optimizer) truncate(raw string, policy Policy, before int) string {
	// Reserve a slice of the budget for the marker itself.
	budget := policy.MaxTokens * 95 / 100
	if budget < 1 {
		budget = 1
	}
	kept := cutToTokens(o.tok, raw, budget)
	return kept + fmt.Sprintf("\n[output truncated: ~%d of ~%d tokens omitted]",
		before-tokenizer.Count(o.tok, kept), before)
}

// sample keeps a representative head and tail of a collection — JSON
// array elements when the output parses as one, lines otherwise — plus
// a marker with the omitted count.
func (o *Optimizer) sample(raw string, policy Policy) string {
	head, tail := policy.SampleHead, policy.SampleTail
	if head <= 0 {
		head = DefaultPolicy().SampleHead
	}
	if tail <= 0 {
		tail = DefaultPolicy().SampleTail
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil && len(items) > head+tail {
			omitted := len(items) - head - tail
			parts := make([]string, 0, head+tail+1)
			for _, item := range items[:head] {
				parts = append(parts, string(item))
			}
			parts = append(parts, fmt.Sprintf(`{"_sampled":true,"omitted_items":%d,"total_items":%d}`, omitted, len(items)))
			for _, item := range items[len(items)-tail:] {
				parts = append(parts, string(item))
			}
			return "[" + strings.Join(parts, ",") + "]"
		}
	}

	lines := strings.Split(raw, "\n")
	if len(lines) <= head+tail {
		// Too few lines to sample; fall back to truncation semantics.
		return o.truncate(raw, policy, tokenizer.Count(o.tok, raw))
	}
	omitted := len(lines) - head - tail
	out := make([]string, 0, head+tail+1)
	out = append(out, lines[:head]...)
	out = append(out, fmt.Sprintf("[... %d of %d lines omitted ...]", omitted, len(lines)))
	out = append(out, lines[len(lines)-tail:]...)
	return strings.Join(out, "\n")
}

// summarize produces a structural digest: shape and counts for JSON,
// head lines and counts for text. Deterministic by construction.
func (o *Optimizer) summarize(raw string, policy Policy) string {
	trimmed := strings.TrimSpace(raw)
	var b strings.Builder

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		b.WriteString("[summary of JSON output]\n")
		describeJSON(&b, parsed, "", 0)
	} else {
		lines := strings.Split(raw, "\n")
		b.WriteString(fmt.Sprintf("[summary of text output: %d lines, %d chars]\n", len(lines), utf8.RuneCountInString(raw)))
		keep := 10
		if keep > len(lines) {
			keep = len(lines)
		}
		for _, line := range lines[:keep] {
			if utf8.RuneCountInString(line) > 120 {
				line = string([]rune(line)[:120]) + "…"
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if len(lines) > keep {
			b.WriteString(fmt.Sprintf("[... %d more lines ...]\n", len(lines)-keep))
		}
	}

	out := strings.TrimRight(b.String(), "\n")
	if tokenizer.Count(o.tok, out) > policy.MaxTokens {
		// A digest that still blows the budget gets truncated like any
		// other oversized output.
		return o.truncate(out, policy, tokenizer.Count(o.tok, out))
	}
	return out
}

// describeJSON writes a compact structural description of v.
func describeJSON(b *strings.Builder, v any, prefix string, depth int) {
	indent := strings.Repeat("  ", depth)
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// Deterministic ordering.
		sort.Strings(keys)
		fmt.Fprintf(b, "%s%sobject with %d keys\n", indent, prefix, len(val))
		if depth < 2 {
			for _, k := range keys {
				describeJSON(b, val[k], k+": ", depth+1)
			}
		}
	case []any:
		fmt.Fprintf(b, "%s%sarray of %d items\n", indent, prefix, len(val))
		if depth < 2 && len(val) > 0 {
			describeJSON(b, val[0], "first: ", depth+1)
		}
	case string:
		shown := val
		if utf8.RuneCountInString(shown) > 60 {
			shown = string([]rune(shown)[:60]) + "…"
		}
		fmt.Fprintf(b, "%s%sstring (%d chars) %q\n", indent, prefix, utf8.RuneCountInString(val), shown)
	default:
		fmt.Fprintf(b, "%s%s%v\n", indent, prefix, val)
	}
}

// cutToTokens returns the longest prefix of s whose token count fits
// the budget, cutting on a rune boundary.
func cutToTokens(tok tokenizer.Tokenizer, s string, budget int) string {
	if tokenizer.Count(tok, s) <= budget {
		return s
	}
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if tokenizer.Count(tok, string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

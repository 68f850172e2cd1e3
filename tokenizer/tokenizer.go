// Package tokenizer provides token counting for the context-savings
// accounting. The default counter is a deterministic character-class
// estimator; an exact tiktoken-backed counter is available when vocab
// data can be loaded.
package tokenizer

// Tokenizer is the token-counting interface.
type Tokenizer interface {
	// CountTokens returns the token count for the given text.
	CountTokens(text string) (int, error)

	// Name returns the tokenizer's name.
	Name() string
}

// Count is a convenience wrapper that never fails: on error it falls
// back to the estimator. Metrics accounting prefers a rough number over
// an error path.
func Count(t Tokenizer, text string) int {
	n, err := t.CountTokens(text)
	if err != nil {
		n, _ = NewEstimator().CountTokens(text)
	}
	return n
}

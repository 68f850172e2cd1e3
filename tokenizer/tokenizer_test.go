package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator(t *testing.T) {
	e := NewEstimator()

	t.Run("empty text", func(t *testing.T) {
		n, err := e.CountTokens("")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ascii text approx len/4", func(t *testing.T) {
		n, err := e.CountTokens(strings.Repeat("a", 400))
		require.NoError(t, err)
		assert.Equal(t, 100, n)
	})

	t.Run("cjk text denser", func(t *testing.T) {
		ascii, err := e.CountTokens(strings.Repeat("a", 30))
		require.NoError(t, err)
		cjk, err := e.CountTokens(strings.Repeat("你", 30))
		require.NoError(t, err)
		assert.Greater(t, cjk, ascii)
	})

	t.Run("non-empty text never zero", func(t *testing.T) {
		n, err := e.CountTokens("x")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, _ := e.CountTokens("hello sandbox world")
		b, _ := e.CountTokens("hello sandbox world")
		assert.Equal(t, a, b)
	})
}

func TestCountFallback(t *testing.T) {
	// Count never fails, even for a tokenizer that errors.
	n := Count(failingTokenizer{}, "some text here")
	assert.Positive(t, n)
}

type failingTokenizer struct{}

func (failingTokenizer) CountTokens(string) (int, error) { return 0, assert.AnError }
func (failingTokenizer) Name() string                    { return "failing" }

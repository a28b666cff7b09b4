package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedIsDeterministic(t *testing.T) {
	e := NewLocalEmbedder(nil)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "chest pain radiating to left arm")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "chest pain radiating to left arm")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestEmbedDimension(t *testing.T) {
	e := NewLocalEmbedder(nil)
	v, err := e.Embed(context.Background(), "severe bleeding from a deep cut")
	require.NoError(t, err)
	assert.Len(t, v, Dimension)
	assert.Equal(t, Dimension, e.Dimension())
}

func TestLexicallyOverlappingTextIsCloser(t *testing.T) {
	e := NewLocalEmbedder(nil)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "person is not breathing and unresponsive")
	similar, _ := e.Embed(ctx, "person not breathing, unresponsive, collapsed")
	unrelated, _ := e.Embed(ctx, "small paper cut on finger, light bleeding")

	simScore := cosine(base, similar)
	unrelatedScore := cosine(base, unrelated)

	assert.Greater(t, simScore, unrelatedScore)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	e := NewLocalEmbedder(nil)
	texts := []string{"choking on food", "fainted after standing up", "burn from hot water"}

	batch, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestEmptyTextProducesZeroVector(t *testing.T) {
	e := NewLocalEmbedder(nil)
	v, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	for _, f := range v {
		assert.Equal(t, float32(0), f)
	}
}

func TestProviderAndModel(t *testing.T) {
	e := NewLocalEmbedder(nil)
	assert.Equal(t, "local", e.Provider())
	assert.NotEmpty(t, e.Model())
}

func TestCustomDimensionConfig(t *testing.T) {
	e := NewLocalEmbedder(&Config{Dimension: 64, NGramSize: 3})
	v, err := e.Embed(context.Background(), "diabetic emergency low blood sugar")
	require.NoError(t, err)
	assert.Len(t, v, 64)
}

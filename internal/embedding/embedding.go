// Package embedding provides text-to-vector embedding for the semantic case
// corpus (C2). It ships one local, dependency-free embedder; the Embedder
// interface is the seam a real model-backed embedder would plug into.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Dimension is the fixed vector width used throughout the corpus.
const Dimension = 384

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
	Provider() string
}

// Config configures a local Embedder.
type Config struct {
	Dimension int
	NGramSize int
}

// DefaultConfig returns the corpus's standard embedding configuration.
func DefaultConfig() *Config {
	return &Config{
		Dimension: Dimension,
		NGramSize: 3,
	}
}

// LocalEmbedder is a deterministic, model-free embedder. Text is tokenized,
// each token (and each character n-gram within it) is hashed into a bucket
// of the output vector, and the result is L2-normalized. Two texts that
// share vocabulary land closer together in cosine space than two that
// don't, which is what the retrieval layer needs for typo-tolerant matches
// without depending on an external model service.
type LocalEmbedder struct {
	dim    int
	ngram  int
	model  string
}

// NewLocalEmbedder builds a LocalEmbedder from cfg. A nil cfg uses
// DefaultConfig.
func NewLocalEmbedder(cfg *Config) *LocalEmbedder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = Dimension
	}
	ngram := cfg.NGramSize
	if ngram <= 0 {
		ngram = 3
	}
	return &LocalEmbedder{dim: dim, ngram: ngram, model: "local-hashed-ngram-v1"}
}

// Embed returns the deterministic embedding for text.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

// EmbedBatch embeds each text independently, preserving order.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension returns the embedding vector width.
func (e *LocalEmbedder) Dimension() int { return e.dim }

// Model returns the embedder's model identifier.
func (e *LocalEmbedder) Model() string { return e.model }

// Provider identifies the embedder as local (no external service).
func (e *LocalEmbedder) Provider() string { return "local" }

func (e *LocalEmbedder) embed(text string) []float32 {
	vec := make([]float64, e.dim)

	norm := strings.ToLower(strings.TrimSpace(text))
	tokens := strings.Fields(norm)

	for _, tok := range tokens {
		e.accumulate(vec, tok, 1.0)
		for _, gram := range charNGrams(tok, e.ngram) {
			e.accumulate(vec, gram, 0.5)
		}
	}

	return normalize(vec)
}

// accumulate hashes token into a bucket of vec and adds weight, with a
// sign derived from a second hash so unrelated tokens don't all push the
// vector in the same direction.
func (e *LocalEmbedder) accumulate(vec []float64, token string, weight float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	idx := int(h.Sum32()) % e.dim
	if idx < 0 {
		idx += e.dim
	}

	sh := fnv.New32a()
	_, _ = sh.Write([]byte(token + "#sign"))
	sign := 1.0
	if sh.Sum32()%2 == 0 {
		sign = -1.0
	}

	vec[idx] += sign * weight
}

func charNGrams(s string, n int) []string {
	runes := []rune(s)
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

func normalize(vec []float64) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += v * v
	}
	out := make([]float32, len(vec))
	if sumSq == 0 {
		return out
	}
	norm := math.Sqrt(sumSq)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

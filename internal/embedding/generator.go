// Package embedding turns text into normalised dense vectors.
package embedding

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_embedder.go -package=mocks docsearch/internal/embedding Embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"docsearch/internal/contextutil"
)

// MaxInputChars is the number of characters of input kept before embedding.
const MaxInputChars = 5000

var (
	// ErrEmptyInput is returned for text that is empty after trimming.
	ErrEmptyInput = errors.New("embedding input is empty")
	// ErrModelUnavailable wraps failures to load the embedding model.
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrEmbeddingFailed wraps transport and server failures while embedding.
	ErrEmbeddingFailed = errors.New("embedding request failed")
)

// Embedder produces one vector per text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TextEmbedder is the transport used to compute raw embeddings.
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelLoader loads the embedding model on the inference server.
type ModelLoader interface {
	LoadModel(ctx context.Context, modelName string, extraArgs []string) error
}

// Generator is the process-wide embedding service. The model is loaded lazily
// on first use; concurrent first callers share a single load and a failed
// load is retried by the next caller.
type Generator struct {
	client     TextEmbedder
	model      string
	dimensions int
	maxChars   int

	loader    ModelLoader
	loadArgs  []string
	loaded    atomic.Bool
	loadGroup singleflight.Group

	cache Cache
}

// Option configures a Generator.
type Option func(*Generator)

// WithModelLoader makes the generator load the model through loader with
// args before the first embedding request.
func WithModelLoader(loader ModelLoader, args []string) Option {
	return func(g *Generator) {
		g.loader = loader
		g.loadArgs = args
	}
}

// WithCache sets the embedding cache.
func WithCache(c Cache) Option {
	return func(g *Generator) {
		g.cache = c
	}
}

// WithMaxChars overrides MaxInputChars.
func WithMaxChars(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxChars = n
		}
	}
}

// NewGenerator creates a Generator for model producing vectors of the given
// dimensions.
func NewGenerator(client TextEmbedder, model string, dimensions int, opts ...Option) *Generator {
	g := &Generator{
		client:     client,
		model:      model,
		dimensions: dimensions,
		maxChars:   MaxInputChars,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the embedding model name.
func (g *Generator) Model() string { return g.model }

// Dimensions returns the configured vector size.
func (g *Generator) Dimensions() int { return g.dimensions }

// EnsureLoaded loads the model if it is not loaded yet.
func (g *Generator) EnsureLoaded(ctx context.Context) error {
	if g.loader == nil || g.loaded.Load() {
		return nil
	}

	_, err, _ := g.loadGroup.Do(g.model, func() (interface{}, error) {
		if g.loaded.Load() {
			return nil, nil
		}
		logger := contextutil.LoggerFromContext(ctx)
		logger.InfoContext(ctx, "loading embedding model", "model", g.model)
		if err := g.loader.LoadModel(ctx, g.model, g.loadArgs); err != nil {
			logger.ErrorContext(ctx, "failed to load embedding model", "model", g.model, "error", err)
			return nil, err
		}
		g.loaded.Store(true)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return nil
}

// Embed trims text, keeps the first MaxInputChars characters and returns its
// unit-length embedding.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	logger := contextutil.LoggerFromContext(ctx)

	input := Truncate(strings.TrimSpace(text), g.maxChars)
	if input == "" {
		return nil, ErrEmptyInput
	}

	key := g.cacheKey(input)
	if g.cache != nil {
		vec, ok, err := g.cache.Get(key)
		if err != nil {
			logger.WarnContext(ctx, "embedding cache read failed", "error", err)
		} else if ok {
			logger.DebugContext(ctx, "embedding cache hit", "chars", len(input))
			return vec, nil
		}
	}

	if err := g.EnsureLoaded(ctx); err != nil {
		return nil, err
	}

	vectors, err := g.client.EmbedTexts(ctx, []string{input})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", ErrEmbeddingFailed, len(vectors))
	}

	if !hasMagnitude(vectors[0]) {
		return nil, fmt.Errorf("%w: server returned a zero or non-finite vector", ErrEmbeddingFailed)
	}
	vec := Normalize(vectors[0])

	if g.cache != nil {
		if err := g.cache.Put(key, vec); err != nil {
			logger.WarnContext(ctx, "embedding cache write failed", "error", err)
		}
	}
	return vec, nil
}

func (g *Generator) cacheKey(input string) string {
	sum := sha256.Sum256([]byte(g.model + "\x00" + input))
	return hex.EncodeToString(sum[:])
}

// Truncate returns the first n characters (runes) of s.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// hasMagnitude reports whether v is finite and not all zeros, so it can be
// scaled to unit length.
func hasMagnitude(v []float32) bool {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		sum += f * f
	}
	return sum > 0
}

// Normalize scales v to unit length. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Package embeddertest provides a deterministic Embedder for tests.
package embeddertest

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"

	"github.com/dshills/contextrag/internal/embedder"
)

// ErrInjected is returned while a Fake is set to fail
var ErrInjected = errors.New("injected provider failure")

// Fake produces vectors derived from the SHA-256 of each text and counts calls.
// Identical texts always map to identical vectors.
type Fake struct {
	dim int

	mu       sync.Mutex
	calls    int
	texts    int
	failNext int
	failAll  bool
	vectors  map[string][]float32
}

// New returns a Fake producing vectors of the given dimension
func New(dim int) *Fake {
	return &Fake{dim: dim, vectors: make(map[string][]float32)}
}

// SetVector pins the vector returned for text
func (f *Fake) SetVector(text string, vec []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = vec
}

// FailNext makes the next n provider calls fail
func (f *Fake) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

// FailAll toggles permanent failure
func (f *Fake) FailAll(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

// Calls returns the number of provider calls made
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TextsEmbedded returns the number of texts sent to the provider
func (f *Fake) TextsEmbedded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

// Reset zeroes the counters
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = 0
	f.texts = 0
}

func (f *Fake) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := f.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (f *Fake) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := embedder.ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failAll {
		return nil, ErrInjected
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, ErrInjected
	}
	f.texts += len(req.Texts)

	out := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		vec, ok := f.vectors[text]
		if !ok {
			vec = Vector(text, f.dim)
		}
		out[i] = &embedder.Embedding{
			Vector:    vec,
			Dimension: f.dim,
			Provider:  "fake",
			Model:     "fake",
			Hash:      embedder.ComputeHash(text),
		}
	}

	return &embedder.BatchEmbeddingResponse{Embeddings: out, Provider: "fake", Model: "fake"}, nil
}

func (f *Fake) Dimension() int   { return f.dim }
func (f *Fake) Provider() string { return "fake" }
func (f *Fake) Model() string    { return "fake" }
func (f *Fake) Close() error     { return nil }

// Vector derives the deterministic vector Fake returns for text
func Vector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	for i := 0; i < dim; i++ {
		if i > 0 && i%len(seed) == 0 {
			seed = sha256.Sum256(seed[:])
		}
		vec[i] = float32(seed[i%len(seed)])/255.0 - 0.5
	}
	return embedder.NormalizeVector(vec)
}

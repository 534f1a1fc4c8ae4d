// Package embedder turns text into dense vectors through an external provider.
//
// Three providers implement Embedder:
//
//   - OpenAI (or any OpenAI-compatible server) through go-openai
//   - Jina AI through its HTTP embeddings endpoint
//   - local, a deterministic feature-hashing model that never leaves the process
//
// Provider calls are fallible and slow. Transient failures (network errors,
// 408, 429 and 5xx) are retried with exponential backoff; everything else
// surfaces immediately wrapped in ErrProviderFailed, which is types.ErrProvider.
//
// # Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", Dimension: 384})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	vec, err := embedder.Embed(ctx, emb, "func ParseFile(path string) error")
//	vecs, err := embedder.EmbedMany(ctx, emb, chunks)
//
// EmbedMany keeps input order, splits inputs larger than MaxBatchSize into
// concurrent sub-batches and maps empty strings to the zero vector without a
// provider call.
//
// # Caching
//
// Providers accept an optional in-memory LRU Cache keyed by the SHA-256 of the
// text. Only successful results are cached.
package embedder

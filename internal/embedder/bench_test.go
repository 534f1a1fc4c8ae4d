package embedder

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func BenchmarkHashingVector(b *testing.B) {
	chunk := strings.Repeat("func handle(w http.ResponseWriter, r *http.Request) { }\n", 50)
	for _, dim := range []int{128, 384, 1024} {
		b.Run(fmt.Sprintf("dim=%d", dim), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = hashingVector(chunk, dim)
			}
		})
	}
}

func BenchmarkCache(b *testing.B) {
	cache := NewCache(10000)
	emb := &Embedding{Vector: make([]float32, LocalDimension), Dimension: LocalDimension}

	for i := 0; i < 1000; i++ {
		cache.Set(fmt.Sprintf("hash-%d", i), emb)
	}

	b.Run("get-hit", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = cache.Get(fmt.Sprintf("hash-%d", i%1000))
		}
	})

	b.Run("get-miss", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_, _ = cache.Get(fmt.Sprintf("nonexistent-%d", i))
		}
	})
}

func BenchmarkEmbedMany(b *testing.B) {
	provider, err := NewLocalProvider(LocalDimension, nil)
	if err != nil {
		b.Fatalf("NewLocalProvider() error = %v", err)
	}

	texts := make([]string, 250)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d body with identifiers foo%d bar%d", i, i, i*7)
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := EmbedMany(ctx, provider, texts); err != nil {
			b.Fatal(err)
		}
	}
}

package embedcache

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/contextrag/internal/chunker"
	"github.com/dshills/contextrag/internal/embedder/embeddertest"
	"github.com/dshills/contextrag/internal/storage"
	"github.com/dshills/contextrag/pkg/types"
)

const dim = 8

func newCache(t *testing.T) (*Cache, *embeddertest.Fake, storage.EmbeddingStore) {
	t.Helper()
	store, err := storage.NewFileStore("")
	require.NoError(t, err)
	fake := embeddertest.New(dim)
	return New(store, fake, zerolog.Nop()), fake, store
}

func chunksOf(n int, tag string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s chunk %d", tag, i)
	}
	return out
}

func assertBitIdentical(t *testing.T, want, got []float32) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, math.Float32bits(want[i]), math.Float32bits(got[i]))
	}
}

func TestReEmbed_FirstPassEmbedsEverything(t *testing.T) {
	c, fake, store := newCache(t)
	ctx := context.Background()
	chunks := chunksOf(4, "a")

	res, err := c.ReEmbedChangedChunks(ctx, "a.ts", chunks)
	require.NoError(t, err)
	assert.True(t, res.FullRebuild)
	assert.Equal(t, []int{0, 1, 2, 3}, res.Reembedded)
	assert.Equal(t, chunker.HashChunks(chunks), res.Hashes)
	assert.Equal(t, 4, fake.TextsEmbedded())

	entry, ok, err := store.Load(ctx, "a.ts")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Hashes, entry.Hashes)
}

func TestReEmbed_UnchangedFileMakesNoCalls(t *testing.T) {
	c, fake, _ := newCache(t)
	ctx := context.Background()
	chunks := chunksOf(5, "a")

	first, err := c.ReEmbedChangedChunks(ctx, "a.ts", chunks)
	require.NoError(t, err)
	fake.Reset()

	second, err := c.ReEmbedChangedChunks(ctx, "a.ts", chunks)
	require.NoError(t, err)
	assert.Equal(t, 0, fake.Calls())
	assert.Empty(t, second.Reembedded)
	assert.False(t, second.FullRebuild)
	for i := range chunks {
		assertBitIdentical(t, first.Vectors[i], second.Vectors[i])
	}
}

func TestReEmbed_SmallEdit(t *testing.T) {
	c, fake, _ := newCache(t)
	ctx := context.Background()

	lines := make([]string, 120)
	for i := range lines {
		lines[i] = fmt.Sprintf("let x%d = %d;", i, i)
	}
	before := chunker.Chunk(strings.Join(lines, "\n"), 50)
	require.Len(t, before, 3)

	first, err := c.ReEmbedChangedChunks(ctx, "app.ts", before)
	require.NoError(t, err)
	fake.Reset()

	lines[70] = "let changed = 1;"
	lines[71] = "let changedToo = 2;"
	after := chunker.Chunk(strings.Join(lines, "\n"), 50)

	res, err := c.ReEmbedChangedChunks(ctx, "app.ts", after)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Reembedded)
	assert.Equal(t, 1, fake.Calls())
	assert.Equal(t, 1, fake.TextsEmbedded())

	assertBitIdentical(t, first.Vectors[0], res.Vectors[0])
	assertBitIdentical(t, first.Vectors[2], res.Vectors[2])
	assert.Equal(t, embeddertest.Vector(after[1], dim), res.Vectors[1])
}

func TestReEmbed_StructuralRewrite(t *testing.T) {
	c, fake, _ := newCache(t)
	ctx := context.Background()

	_, err := c.ReEmbedChangedChunks(ctx, "big.ts", chunksOf(10, "v1"))
	require.NoError(t, err)
	fake.Reset()

	// Keep the first chunk identical so only the threshold forces a rebuild
	shrunk := chunksOf(3, "v1")
	res, err := c.ReEmbedChangedChunks(ctx, "big.ts", shrunk)
	require.NoError(t, err)
	assert.True(t, res.FullRebuild)
	assert.Equal(t, []int{0, 1, 2}, res.Reembedded)
	assert.Equal(t, 3, fake.TextsEmbedded())
	assert.Len(t, res.Vectors, 3)
}

func TestReEmbed_ThresholdBoundary(t *testing.T) {
	c, fake, _ := newCache(t)
	ctx := context.Background()

	_, err := c.ReEmbedChangedChunks(ctx, "f.ts", chunksOf(10, "v"))
	require.NoError(t, err)
	fake.Reset()

	// 10 -> 7 is exactly 30%, still positional
	res, err := c.ReEmbedChangedChunks(ctx, "f.ts", chunksOf(7, "v"))
	require.NoError(t, err)
	assert.False(t, res.FullRebuild)
	assert.Empty(t, res.Reembedded)
	assert.Equal(t, 0, fake.Calls())

	// 7 -> 9 grows by under 30%; the new tail positions are embedded
	res, err = c.ReEmbedChangedChunks(ctx, "f.ts", chunksOf(9, "v"))
	require.NoError(t, err)
	assert.False(t, res.FullRebuild)
	assert.Equal(t, []int{7, 8}, res.Reembedded)
}

func TestReEmbed_ProviderFailureSavesNothing(t *testing.T) {
	c, fake, store := newCache(t)
	ctx := context.Background()

	original := chunksOf(3, "a")
	_, err := c.ReEmbedChangedChunks(ctx, "a.ts", original)
	require.NoError(t, err)

	edited := append([]string(nil), original...)
	edited[2] = "edited"
	fake.FailAll(true)

	res, err := c.ReEmbedChangedChunks(ctx, "a.ts", edited)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, types.ErrProvider)

	entry, ok, err := store.Load(ctx, "a.ts")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, chunker.HashChunks(original), entry.Hashes)

	_, err = c.ReEmbedChangedChunks(ctx, "new.ts", original)
	assert.ErrorIs(t, err, types.ErrProvider)
	_, ok, err = store.Load(ctx, "new.ts")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReEmbed_DimensionChangeInvalidates(t *testing.T) {
	store, err := storage.NewFileStore("")
	require.NoError(t, err)
	ctx := context.Background()
	chunks := chunksOf(2, "a")

	_, err = New(store, embeddertest.New(4), zerolog.Nop()).ReEmbedChangedChunks(ctx, "a.ts", chunks)
	require.NoError(t, err)

	fake := embeddertest.New(8)
	res, err := New(store, fake, zerolog.Nop()).ReEmbedChangedChunks(ctx, "a.ts", chunks)
	require.NoError(t, err)
	assert.True(t, res.FullRebuild)
	assert.Len(t, res.Vectors[0], 8)
}

func TestReEmbed_EmptyChunkIsZeroVector(t *testing.T) {
	c, fake, _ := newCache(t)

	res, err := c.ReEmbedChangedChunks(context.Background(), "empty.ts", chunker.Chunk("", 50))
	require.NoError(t, err)
	require.Len(t, res.Vectors, 1)
	assert.Equal(t, make([]float32, dim), res.Vectors[0])
	assert.Equal(t, 0, fake.Calls())
}

func TestForgetAndClear(t *testing.T) {
	c, fake, _ := newCache(t)
	ctx := context.Background()

	_, err := c.ReEmbedChangedChunks(ctx, "a.ts", chunksOf(2, "a"))
	require.NoError(t, err)
	_, err = c.ReEmbedChangedChunks(ctx, "b.ts", chunksOf(2, "b"))
	require.NoError(t, err)

	require.NoError(t, c.Forget(ctx, "a.ts"))
	fake.Reset()
	_, err = c.ReEmbedChangedChunks(ctx, "a.ts", chunksOf(2, "a"))
	require.NoError(t, err)
	assert.Equal(t, 2, fake.TextsEmbedded())

	require.NoError(t, c.Clear(ctx))
	fake.Reset()
	_, err = c.ReEmbedChangedChunks(ctx, "b.ts", chunksOf(2, "b"))
	require.NoError(t, err)
	assert.Equal(t, 2, fake.TextsEmbedded())
}

func TestStructuralChange(t *testing.T) {
	tests := []struct {
		old, new int
		want     bool
	}{
		{10, 3, true},
		{10, 7, false},
		{10, 13, false},
		{10, 14, true},
		{0, 0, false},
		{0, 1, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, structuralChange(tt.old, tt.new, DefaultStructuralThreshold), "%d -> %d", tt.old, tt.new)
	}
}

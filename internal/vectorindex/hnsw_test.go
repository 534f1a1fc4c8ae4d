package vectorindex

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/contextrag/pkg/types"
)

func TestCosineDistance(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	c := []float32{-1, 0}
	zero := []float32{0, 0}

	assert.InDelta(t, 0.0, cosineDistance(a, vectorNorm(a), a, vectorNorm(a)), 1e-9)
	assert.InDelta(t, 1.0, cosineDistance(a, vectorNorm(a), b, vectorNorm(b)), 1e-9)
	assert.InDelta(t, 2.0, cosineDistance(a, vectorNorm(a), c, vectorNorm(c)), 1e-9)
	assert.Equal(t, 1.0, cosineDistance(a, vectorNorm(a), zero, 0))
}

func TestGraph_NeighbourListsBounded(t *testing.T) {
	g := newGraph(8, 4, 32, 1)
	r := rand.New(rand.NewSource(1))
	for i := int64(0); i < 300; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = r.Float32()
		}
		g.insert(i, v)
	}

	for _, n := range g.nodes {
		require.Len(t, n.neighbors, n.level+1)
		for l, links := range n.neighbors {
			assert.LessOrEqual(t, len(links), g.maxConnections(l))
		}
	}
	assert.Equal(t, g.nodes[g.entry].level, g.maxLevel)
}

func TestGraph_SearchOrdersByDistance(t *testing.T) {
	g := newGraph(2, 16, 100, 1)
	g.insert(0, []float32{1, 0})
	g.insert(1, []float32{1, 1})
	g.insert(2, []float32{0, 1})
	g.insert(3, []float32{0, 0})

	found := g.search([]float32{1, 0.1}, 4, 10)
	require.Len(t, found, 4)
	assert.Equal(t, int64(0), found[0].id)
	assert.Equal(t, int64(1), found[1].id)
	for i := 1; i < len(found); i++ {
		assert.LessOrEqual(t, found[i-1].dist, found[i].dist)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	g := newGraph(4, 4, 16, 7)
	r := rand.New(rand.NewSource(7))
	for i := int64(10); i < 60; i++ {
		g.insert(i, []float32{r.Float32(), r.Float32(), r.Float32(), r.Float32()})
	}

	var buf bytes.Buffer
	require.NoError(t, writeGraph(&buf, g))

	decoded, err := readGraph(bytes.NewReader(buf.Bytes()), 4, 7)
	require.NoError(t, err)
	assert.Equal(t, g.entry, decoded.entry)
	assert.Equal(t, g.maxLevel, decoded.maxLevel)
	require.Equal(t, g.len(), decoded.len())
	for id, n := range g.nodes {
		d := decoded.nodes[id]
		require.NotNil(t, d)
		assert.Equal(t, n.vector, d.vector)
		assert.Equal(t, n.neighbors, d.neighbors)
	}
}

func TestCodec_RejectsDamage(t *testing.T) {
	g := newGraph(4, 4, 16, 1)
	g.insert(0, []float32{1, 2, 3, 4})
	g.insert(1, []float32{4, 3, 2, 1})

	var buf bytes.Buffer
	require.NoError(t, writeGraph(&buf, g))
	data := buf.Bytes()

	_, err := readGraph(bytes.NewReader(data), 8, 1)
	assert.ErrorIs(t, err, types.ErrCorruptState)

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xff
	_, err = readGraph(bytes.NewReader(bad), 4, 1)
	assert.ErrorIs(t, err, types.ErrCorruptState)

	_, err = readGraph(bytes.NewReader(append(append([]byte(nil), data...), 0)), 4, 1)
	assert.ErrorIs(t, err, types.ErrCorruptState)

	_, err = readGraph(bytes.NewReader(data[:len(data)-3]), 4, 1)
	assert.ErrorIs(t, err, types.ErrCorruptState)
}

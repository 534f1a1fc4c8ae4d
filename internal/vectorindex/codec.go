package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/dshills/contextrag/pkg/types"
)

const (
	blobMagic   uint32 = 0x43524e48 // "CRNH"
	blobVersion uint16 = 1
)

var byteOrder = binary.LittleEndian

// blobHeader is the fixed prefix of the graph blob
type blobHeader struct {
	Magic          uint32
	Version        uint16
	Dimension      uint32
	M              uint32
	EfConstruction uint32
	Entry          int64
	MaxLevel       int32
	Nodes          uint32
}

// writeGraph serializes g to w
func writeGraph(w io.Writer, g *graph) error {
	bw := bufio.NewWriter(w)

	hdr := blobHeader{
		Magic:          blobMagic,
		Version:        blobVersion,
		Dimension:      uint32(g.dim),
		M:              uint32(g.m),
		EfConstruction: uint32(g.efConstruction),
		Entry:          g.entry,
		MaxLevel:       int32(g.maxLevel),
		Nodes:          uint32(len(g.nodes)),
	}
	if err := binary.Write(bw, byteOrder, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, id := range sortedIDs(g.nodes) {
		n := g.nodes[id]
		if err := binary.Write(bw, byteOrder, n.id); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, int32(n.level)); err != nil {
			return err
		}
		if err := binary.Write(bw, byteOrder, n.vector); err != nil {
			return err
		}
		for _, links := range n.neighbors {
			if err := binary.Write(bw, byteOrder, uint32(len(links))); err != nil {
				return err
			}
			if err := binary.Write(bw, byteOrder, links); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// readGraph decodes a blob written by writeGraph. Any structural problem is
// reported as types.ErrCorruptState, and so is a dimension other than dim.
func readGraph(r io.Reader, dim int, seed int64) (*graph, error) {
	br := bufio.NewReader(r)

	var hdr blobHeader
	if err := binary.Read(br, byteOrder, &hdr); err != nil {
		return nil, corrupt("read header: %v", err)
	}
	if hdr.Magic != blobMagic {
		return nil, corrupt("bad magic %#x", hdr.Magic)
	}
	if hdr.Version != blobVersion {
		return nil, corrupt("unsupported blob version %d", hdr.Version)
	}
	if int(hdr.Dimension) != dim {
		return nil, corrupt("dimension %d, want %d", hdr.Dimension, dim)
	}
	if hdr.Dimension == 0 || hdr.M < 2 || hdr.MaxLevel > maxLevelCap {
		return nil, corrupt("invalid parameters")
	}

	g := newGraph(int(hdr.Dimension), int(hdr.M), int(hdr.EfConstruction), seed)

	for i := uint32(0); i < hdr.Nodes; i++ {
		n := &node{}
		var level int32
		if err := binary.Read(br, byteOrder, &n.id); err != nil {
			return nil, corrupt("node %d: %v", i, err)
		}
		if err := binary.Read(br, byteOrder, &level); err != nil {
			return nil, corrupt("node %d level: %v", i, err)
		}
		if level < 0 || level > maxLevelCap {
			return nil, corrupt("node %d level %d out of range", i, level)
		}
		n.level = int(level)

		n.vector = make([]float32, hdr.Dimension)
		if err := binary.Read(br, byteOrder, n.vector); err != nil {
			return nil, corrupt("node %d vector: %v", i, err)
		}
		n.norm = vectorNorm(n.vector)

		n.neighbors = make([][]int64, n.level+1)
		for l := 0; l <= n.level; l++ {
			var count uint32
			if err := binary.Read(br, byteOrder, &count); err != nil {
				return nil, corrupt("node %d links: %v", i, err)
			}
			if int(count) > g.maxConnections(l) {
				return nil, corrupt("node %d has %d links on layer %d", i, count, l)
			}
			n.neighbors[l] = make([]int64, count)
			if err := binary.Read(br, byteOrder, n.neighbors[l]); err != nil {
				return nil, corrupt("node %d links: %v", i, err)
			}
		}

		if _, dup := g.nodes[n.id]; dup {
			return nil, corrupt("duplicate node id %d", n.id)
		}
		g.nodes[n.id] = n
	}

	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		return nil, corrupt("trailing data after %d nodes", hdr.Nodes)
	}

	// Every link must resolve to a node tall enough for its layer
	for _, n := range g.nodes {
		for l, links := range n.neighbors {
			for _, nid := range links {
				target, ok := g.nodes[nid]
				if !ok || target.level < l {
					return nil, corrupt("node %d links to missing node %d", n.id, nid)
				}
			}
		}
	}

	if len(g.nodes) == 0 {
		if hdr.MaxLevel != -1 {
			return nil, corrupt("empty graph with entry point")
		}
		return g, nil
	}

	entry, ok := g.nodes[hdr.Entry]
	if !ok || entry.level != int(hdr.MaxLevel) {
		return nil, corrupt("invalid entry point %d", hdr.Entry)
	}
	g.entry = hdr.Entry
	g.maxLevel = int(hdr.MaxLevel)

	return g, nil
}

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", types.ErrCorruptState, fmt.Sprintf(format, args...))
}

// checkFinite rejects vectors carrying NaN or Inf
func checkFinite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

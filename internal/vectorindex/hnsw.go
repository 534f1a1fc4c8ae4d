package vectorindex

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
)

// maxLevelCap bounds the height of the layer hierarchy
const maxLevelCap = 16

// node is a point in the graph. neighbors[l] holds its links on layer l.
type node struct {
	id        int64
	level     int
	vector    []float32
	norm      float64
	neighbors [][]int64
}

// graph is a Hierarchical Navigable Small World graph over cosine distance.
// It has no deletion; callers tombstone ids in their own metadata.
// graph is not safe for concurrent use; Index serializes access.
type graph struct {
	dim            int
	m              int
	m0             int
	efConstruction int
	ml             float64

	nodes    map[int64]*node
	entry    int64
	maxLevel int // -1 when empty

	rng *rand.Rand
}

func newGraph(dim, m, efConstruction int, seed int64) *graph {
	return &graph{
		dim:            dim,
		m:              m,
		m0:             2 * m,
		efConstruction: efConstruction,
		ml:             1 / math.Log(float64(m)),
		nodes:          make(map[int64]*node),
		maxLevel:       -1,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

func (g *graph) len() int {
	return len(g.nodes)
}

func (g *graph) has(id int64) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *graph) randomLevel() int {
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * g.ml))
	if level > maxLevelCap {
		level = maxLevelCap
	}
	return level
}

func (g *graph) maxConnections(level int) int {
	if level == 0 {
		return g.m0
	}
	return g.m
}

// insert adds vec under id. The vector is copied.
func (g *graph) insert(id int64, vec []float32) {
	v := make([]float32, len(vec))
	copy(v, vec)

	level := g.randomLevel()
	n := &node{
		id:        id,
		level:     level,
		vector:    v,
		norm:      vectorNorm(v),
		neighbors: make([][]int64, level+1),
	}
	g.nodes[id] = n

	if g.maxLevel == -1 {
		g.entry = id
		g.maxLevel = level
		return
	}

	ep := g.entry
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedy(v, n.norm, ep, l)
	}

	for l := min(level, g.maxLevel); l >= 0; l-- {
		found := g.searchLayer(v, n.norm, ep, g.efConstruction, l)
		selected := found
		if limit := g.maxConnections(l); len(selected) > limit {
			selected = selected[:limit]
		}

		n.neighbors[l] = make([]int64, len(selected))
		for i, c := range selected {
			n.neighbors[l][i] = c.id
			g.link(c.id, id, l)
		}

		if len(found) > 0 {
			ep = found[0].id
		}
	}

	if level > g.maxLevel {
		g.entry = id
		g.maxLevel = level
	}
}

// link adds a back edge from -> to on layer l, shrinking the list to the
// closest maxConnections neighbours when it overflows.
func (g *graph) link(from, to int64, l int) {
	fn := g.nodes[from]
	fn.neighbors[l] = append(fn.neighbors[l], to)

	limit := g.maxConnections(l)
	if len(fn.neighbors[l]) <= limit {
		return
	}

	cands := make([]candidate, len(fn.neighbors[l]))
	for i, nid := range fn.neighbors[l] {
		nn := g.nodes[nid]
		cands[i] = candidate{id: nid, dist: cosineDistance(fn.vector, fn.norm, nn.vector, nn.norm)}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })

	kept := make([]int64, limit)
	for i := 0; i < limit; i++ {
		kept[i] = cands[i].id
	}
	fn.neighbors[l] = kept
}

// greedy walks layer l towards q and returns the closest node it reaches
func (g *graph) greedy(q []float32, qnorm float64, ep int64, l int) int64 {
	cur := g.nodes[ep]
	curDist := cosineDistance(q, qnorm, cur.vector, cur.norm)

	for changed := true; changed; {
		changed = false
		for _, nid := range cur.neighbors[l] {
			nn := g.nodes[nid]
			if d := cosineDistance(q, qnorm, nn.vector, nn.norm); d < curDist {
				cur, curDist = nn, d
				changed = true
			}
		}
	}
	return cur.id
}

// searchLayer is the best-first beam search on layer l. Results are sorted by
// ascending distance and hold at most ef entries.
func (g *graph) searchLayer(q []float32, qnorm float64, ep int64, ef, l int) []candidate {
	start := g.nodes[ep]
	first := candidate{id: ep, dist: cosineDistance(q, qnorm, start.vector, start.norm)}

	visited := map[int64]struct{}{ep: {}}
	candidates := &candidateQueue{}
	results := &candidateQueue{max: true}
	heap.Push(candidates, first)
	heap.Push(results, first)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && c.dist > results.peek().dist {
			break
		}

		cn := g.nodes[c.id]
		if l >= len(cn.neighbors) {
			continue
		}
		for _, nid := range cn.neighbors[l] {
			if _, seen := visited[nid]; seen {
				continue
			}
			visited[nid] = struct{}{}

			nn := g.nodes[nid]
			d := cosineDistance(q, qnorm, nn.vector, nn.norm)
			if results.Len() < ef || d < results.peek().dist {
				heap.Push(candidates, candidate{id: nid, dist: d})
				heap.Push(results, candidate{id: nid, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// search returns up to k nearest ids to q, closest first
func (g *graph) search(q []float32, k, ef int) []candidate {
	if g.maxLevel == -1 || k <= 0 {
		return nil
	}
	if ef < k {
		ef = k
	}

	qnorm := vectorNorm(q)
	ep := g.entry
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedy(q, qnorm, ep, l)
	}

	found := g.searchLayer(q, qnorm, ep, ef, 0)
	if len(found) > k {
		found = found[:k]
	}
	return found
}

type candidate struct {
	id   int64
	dist float64
}

// candidateQueue is a binary heap of candidates; a min-heap unless max is set
type candidateQueue struct {
	items []candidate
	max   bool
}

func (q candidateQueue) Len() int { return len(q.items) }

func (q candidateQueue) Less(i, j int) bool {
	if q.max {
		return q.items[i].dist > q.items[j].dist
	}
	return q.items[i].dist < q.items[j].dist
}

func (q candidateQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *candidateQueue) Push(x interface{}) { q.items = append(q.items, x.(candidate)) }

func (q *candidateQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

func (q *candidateQueue) peek() candidate { return q.items[0] }

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from everything.
func cosineDistance(a []float32, anorm float64, b []float32, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot/(anorm*bnorm)
}

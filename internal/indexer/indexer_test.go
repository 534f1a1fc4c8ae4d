package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/contextrag/internal/embedcache"
	"github.com/dshills/contextrag/internal/embedder/embeddertest"
	"github.com/dshills/contextrag/internal/storage"
	"github.com/dshills/contextrag/internal/vectorindex"
)

const testDim = 16

type fixture struct {
	ix    *Indexer
	index *vectorindex.Index
	fake  *embeddertest.Fake
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()

	cfg := vectorindex.DefaultConfig("")
	cfg.Dimension = testDim
	cfg.Capacity = capacity
	cfg.Seed = 7
	index, err := vectorindex.Open(cfg, zerolog.Nop())
	require.NoError(t, err)

	store, err := storage.NewFileStore("")
	require.NoError(t, err)

	fake := embeddertest.New(testDim)
	cache := embedcache.New(store, fake, zerolog.Nop())

	icfg := DefaultConfig()
	icfg.WindowSize = 2
	return &fixture{
		ix:    New(index, cache, icfg, zerolog.Nop()),
		index: index,
		fake:  fake,
	}
}

func lines(n int, prefix string) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s line %d", prefix, i)
	}
	return strings.Join(out, "\n")
}

func file(p string) *Node {
	return &Node{Name: filepath.Base(p), Type: NodeFile, Path: p}
}

func folder(name, p string, children ...*Node) *Node {
	return &Node{Name: name, Type: NodeFolder, Path: p, Children: children}
}

func mapContent(files map[string]string) ContentFunc {
	var mu sync.Mutex
	return func(p string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		text, ok := files[p]
		if !ok {
			return "", fmt.Errorf("%s: %w", p, os.ErrNotExist)
		}
		return text, nil
	}
}

func sampleTree() (*Node, map[string]string) {
	tree := folder("repo", "",
		file("main.go"),
		file("logo.png"),
		folder("src", "src",
			file("src/app.ts"),
			file("src/util.py"),
		),
		folder("node_modules", "node_modules", file("node_modules/dep.js")),
		folder(".contextrag", ".contextrag", file(".contextrag/hnsw_metadata.json")),
	)
	content := map[string]string{
		"main.go":                        lines(5, "main"),
		"logo.png":                       "binary",
		"src/app.ts":                     lines(3, "app"),
		"src/util.py":                    lines(4, "util"),
		"node_modules/dep.js":            lines(2, "dep"),
		".contextrag/hnsw_metadata.json": "{}",
	}
	return tree, content
}

func TestCollectFiles(t *testing.T) {
	tree, _ := sampleTree()
	files := DefaultConfig().collectFiles(tree)
	assert.Equal(t, []string{"main.go", "src/app.ts", "src/util.py"}, files)

	cfg := DefaultConfig()
	cfg.Extensions = nil
	files = cfg.collectFiles(tree)
	assert.Equal(t, []string{"main.go", "logo.png", "src/app.ts", "src/util.py"}, files)
}

func TestCollectFiles_ExtensionCaseInsensitive(t *testing.T) {
	tree := folder("r", "", file("README.MD"), file("Main.GO"))
	assert.Equal(t, []string{"README.MD", "Main.GO"}, DefaultConfig().collectFiles(tree))
}

func TestIndexTree_Basic(t *testing.T) {
	f := newFixture(t, 1000)
	tree, content := sampleTree()

	var progress []Progress
	res, err := f.ix.IndexTree(context.Background(), tree, mapContent(content), func(p Progress) {
		progress = append(progress, p)
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Indexed)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.False(t, res.IndexFull)

	require.Len(t, progress, 3)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Current)
		assert.Equal(t, 3, p.Total)
		assert.Equal(t, StatusIndexed, p.Status)
	}
	assert.Equal(t, "src/util.py", progress[2].CurrentFile)

	stats := f.index.Stats()
	assert.Equal(t, 3, stats.TotalFiles)
	// window 2: 5 lines -> 3, 3 lines -> 2, 4 lines -> 2
	assert.Equal(t, 7, stats.TotalChunks)
	assert.Equal(t, []string{"main.go", "src/app.ts", "src/util.py"}, f.index.Files())

	assert.Same(t, res, f.ix.LastResult())
	assert.False(t, f.ix.Running())
}

func TestIndexTree_UnchangedFilesSkipped(t *testing.T) {
	f := newFixture(t, 1000)
	tree, content := sampleTree()
	ctx := context.Background()

	_, err := f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{})
	require.NoError(t, err)
	f.fake.Reset()

	var statuses []string
	res, err := f.ix.IndexTree(ctx, tree, mapContent(content), func(p Progress) {
		statuses = append(statuses, p.Status)
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Indexed)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, []string{StatusUnchanged, StatusUnchanged, StatusUnchanged}, statuses)
	assert.Zero(t, f.fake.TextsEmbedded())
}

func TestIndexTree_EditReembedsOnlyChangedChunks(t *testing.T) {
	f := newFixture(t, 1000)
	tree, content := sampleTree()
	ctx := context.Background()

	_, err := f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{})
	require.NoError(t, err)
	f.fake.Reset()

	edited := strings.Split(content["main.go"], "\n")
	edited[2] = "main line 2 edited"
	content["main.go"] = strings.Join(edited, "\n")

	res, err := f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, f.fake.TextsEmbedded())

	results, err := f.index.Search(embeddertest.Vector("main line 2 edited\nmain line 3", testDim), 1, "main.go")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "main line 2 edited\nmain line 3", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestIndexTree_EmptyAndOversizedSkipped(t *testing.T) {
	f := newFixture(t, 1000)
	f.ix.cfg.MaxFileSize = 64

	tree := folder("r", "", file("empty.go"), file("big.go"), file("ok.go"))
	content := map[string]string{
		"empty.go": "",
		"big.go":   strings.Repeat("x", 65),
		"ok.go":    "package ok",
	}

	var statuses []string
	res, err := f.ix.IndexTree(context.Background(), tree, mapContent(content), func(p Progress) {
		statuses = append(statuses, p.Status)
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, []string{StatusSkipped, StatusSkipped, StatusIndexed}, statuses)
	assert.Equal(t, []string{"ok.go"}, f.index.Files())
}

func TestIndexTree_FileTurnedEmptyOrOversizedIsRemoved(t *testing.T) {
	f := newFixture(t, 1000)
	f.ix.cfg.MaxFileSize = 64
	ctx := context.Background()

	tree := folder("r", "", file("a.go"), file("b.go"), file("c.go"))
	content := map[string]string{
		"a.go": "package a\nfunc A() {}",
		"b.go": "package b\nfunc B() {}",
		"c.go": "package c",
	}
	_, err := f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{})
	require.NoError(t, err)
	require.Len(t, f.index.Files(), 3)

	content["a.go"] = ""
	content["b.go"] = strings.Repeat("x", 65)

	var statuses []string
	res, err := f.ix.IndexTree(ctx, tree, mapContent(content), func(p Progress) {
		statuses = append(statuses, p.Status)
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, []string{StatusSkipped, StatusSkipped, StatusUnchanged}, statuses)
	assert.Equal(t, []string{"c.go"}, f.index.Files())

	results, err := f.index.Search(embeddertest.Vector("package a\nfunc A() {}", testDim), 10, "a.go")
	require.NoError(t, err)
	assert.Empty(t, results)

	// Restoring the file indexes it again from scratch
	content["a.go"] = "package a\nfunc A() {}"
	calls := f.fake.TextsEmbedded()
	res, err = f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Indexed)
	assert.Zero(t, res.Removed)
	assert.Equal(t, calls+1, f.fake.TextsEmbedded())
}

func TestIndexTree_FileErrorDoesNotStopWalk(t *testing.T) {
	f := newFixture(t, 1000)
	tree := folder("r", "", file("a.go"), file("missing.go"), file("c.go"))
	content := map[string]string{"a.go": "package a", "c.go": "package c"}

	var statuses []string
	res, err := f.ix.IndexTree(context.Background(), tree, mapContent(content), func(p Progress) {
		statuses = append(statuses, p.Status)
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Indexed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "missing.go")
	assert.Equal(t, []string{StatusIndexed, StatusError, StatusIndexed}, statuses)
}

func TestIndexTree_ProviderFailureRecorded(t *testing.T) {
	f := newFixture(t, 1000)
	f.fake.FailAll(true)

	tree := folder("r", "", file("a.go"))
	res, err := f.ix.IndexTree(context.Background(), tree, mapContent(map[string]string{"a.go": "package a"}), nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Indexed)
	require.Len(t, res.Errors, 1)
	assert.Empty(t, f.index.Files())
}

func TestIndexTree_CapacityStopsRun(t *testing.T) {
	f := newFixture(t, 3)
	tree := folder("r", "", file("a.go"), file("b.go"), file("c.go"))
	content := map[string]string{
		"a.go": lines(4, "a"), // 2 chunks
		"b.go": lines(4, "b"), // 2 chunks, does not fit
		"c.go": lines(1, "c"),
	}

	var statuses []string
	res, err := f.ix.IndexTree(context.Background(), tree, mapContent(content), func(p Progress) {
		statuses = append(statuses, p.Status)
	}, Options{})
	require.NoError(t, err)

	assert.True(t, res.IndexFull)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "b.go")
	assert.Equal(t, []string{StatusIndexed, StatusIndexFull, StatusSkipped}, statuses)
	assert.Equal(t, []string{"a.go"}, f.index.Files())
}

func TestIndexTree_ForceReindex(t *testing.T) {
	f := newFixture(t, 1000)
	tree, content := sampleTree()
	ctx := context.Background()

	_, err := f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{})
	require.NoError(t, err)
	f.fake.Reset()

	res, err := f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{ForceReindex: true})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Indexed)
	assert.Equal(t, 7, f.fake.TextsEmbedded())
	assert.Equal(t, 7, f.index.Stats().Points)
}

func TestIndexTree_PruneMissing(t *testing.T) {
	f := newFixture(t, 1000)
	tree, content := sampleTree()
	ctx := context.Background()

	_, err := f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{})
	require.NoError(t, err)

	smaller := folder("repo", "", file("main.go"))
	res, err := f.ix.IndexTree(ctx, smaller, mapContent(content), nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, res.Removed)
	assert.Len(t, f.index.Files(), 3)

	res, err = f.ix.IndexTree(ctx, smaller, mapContent(content), nil, Options{PruneMissing: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, []string{"main.go"}, f.index.Files())

	results, err := f.index.Search(embeddertest.Vector("app line 0\napp line 1", testDim), 10, "")
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "main.go", r.FilePath)
	}
}

func TestIndexTree_ConcurrentRunRejected(t *testing.T) {
	f := newFixture(t, 1000)
	tree := folder("r", "", file("a.go"))

	entered := make(chan struct{})
	release := make(chan struct{})
	content := func(string) (string, error) {
		close(entered)
		<-release
		return "package a", nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.ix.IndexTree(context.Background(), tree, content, nil, Options{})
		done <- err
	}()

	<-entered
	assert.True(t, f.ix.Running())
	_, err := f.ix.IndexTree(context.Background(), tree, mapContent(nil), nil, Options{})
	assert.ErrorIs(t, err, ErrIndexingInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.ix.Running())
}

func TestIndexTree_CancelledContext(t *testing.T) {
	f := newFixture(t, 1000)
	tree, content := sampleTree()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.ix.IndexTree(ctx, tree, mapContent(content), nil, Options{})
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, res)
	assert.Zero(t, res.Indexed)
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, text string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(text), 0o644))
	}
	write("main.go", lines(3, "main"))
	write("pkg/lib.go", lines(2, "lib"))
	write("node_modules/x/index.js", "module.exports = {}")
	write(".git/HEAD", "ref: refs/heads/main")

	f := newFixture(t, 1000)
	res, err := f.ix.IndexDirectory(context.Background(), dir, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, []string{"main.go", "pkg/lib.go"}, f.index.Files())
}

func TestBuildTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "b", "c.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor", "v.go"), []byte("x"), 0o644))

	root, err := BuildTree(dir, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, NodeFolder, root.Type)
	assert.Equal(t, "", root.Path)
	require.Len(t, root.Children, 1)

	a := root.Children[0]
	assert.Equal(t, "a", a.Path)
	require.Len(t, a.Children, 1)
	require.Len(t, a.Children[0].Children, 1)
	assert.Equal(t, "a/b/c.go", a.Children[0].Children[0].Path)

	text, err := OSContent(dir)("a/b/c.go")
	require.NoError(t, err)
	assert.Equal(t, "x", text)

	_, err = BuildTree(filepath.Join(dir, "a", "b", "c.go"), DefaultConfig())
	assert.Error(t, err)
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
}

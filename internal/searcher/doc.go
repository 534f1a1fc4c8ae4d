// Package searcher answers semantic queries against the vector index.
//
// A query is embedded once and its vector kept in an LRU cache keyed by the
// SHA-256 of the query text, so repeated queries skip the provider:
//
//	s := searcher.New(index, emb, logger)
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query:          "where are chunk hashes compared",
//	    Limit:          5,
//	    FilterFilePath: "internal/indexer/indexer.go",
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("%s (%.2f)\n", r.FilePath, r.Score)
//	}
//
// Results come back in descending score order, where the score is one minus the
// cosine distance. A filter for a file that is not indexed yields no results.
// MinScore drops weak hits after the index search, so fewer than Limit results
// may be returned.
package searcher

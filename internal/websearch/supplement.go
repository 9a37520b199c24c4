package websearch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codelake/codelake/internal/knowledge"
)

// searcher is the query behavior Supplementer needs.
type searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// pageFetcher is the page retrieval behavior Supplementer needs.
type pageFetcher interface {
	Fetch(urls []string) map[string]string
}

// Supplementer converts web search hits into synthetic documentation
// chunks. The chunks carry no similarity score and are ordered after
// all local results by the caller.
type Supplementer struct {
	search searcher
	fetch  pageFetcher
	logger *slog.Logger
}

// NewSupplementer creates a Supplementer.
func NewSupplementer(search searcher, fetch pageFetcher, logger *slog.Logger) *Supplementer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supplementer{search: search, fetch: fetch, logger: logger}
}

// Supplement searches the web for the query and returns synthetic
// chunks built from fetched page text, falling back to search snippets
// when a page cannot be fetched. A failed search returns an error
// wrapping ErrDegraded; callers continue with local results.
func (s *Supplementer) Supplement(ctx context.Context, query string) ([]knowledge.Result, error) {
	hits, err := s.search.Search(ctx, query)
	if err != nil {
		s.logger.Warn("web search failed, continuing without supplementation", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	urls := make([]string, 0, len(hits))
	for _, h := range hits {
		urls = append(urls, h.URL)
	}
	pages := s.fetch.Fetch(urls)

	results := make([]knowledge.Result, 0, len(hits))
	for _, hit := range hits {
		content := pages[hit.URL]
		if content == "" {
			content = hit.Snippet
		}
		if content == "" {
			continue
		}
		results = append(results, knowledge.Result{
			Chunk: knowledge.Chunk{
				Content: content,
				Metadata: map[string]string{
					knowledge.MetaSource:  knowledge.SourceWeb,
					knowledge.MetaPath:    hit.URL,
					knowledge.MetaSection: hit.Title,
				},
			},
		})
	}

	s.logger.Info("web supplementation completed",
		"query", query, "hits", len(hits), "chunks", len(results))
	return results, nil
}

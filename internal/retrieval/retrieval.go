// Package retrieval decides what documentation context a request gets.
// It layers confidence scoring and web fallback on top of the raw
// vector search: low-similarity results are filtered out, and when the
// best local match is weak the web supplements (never displaces) the
// local results.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codelake/codelake/internal/knowledge"
	"github.com/codelake/codelake/internal/websearch"
)

// ErrUnavailable signals that the document store could not be queried.
// This is fatal for the request; callers do not proceed to planning.
var ErrUnavailable = errors.New("retrieval unavailable")

// Searcher is the document store behavior the retriever depends on.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Supplementer provides web results when local confidence is low.
type Supplementer interface {
	Supplement(ctx context.Context, query string) ([]knowledge.Result, error)
}

// Config holds retrieval tuning parameters.
type Config struct {
	// TopK is how many chunks to request from the store. Default 5.
	TopK int32
	// MinSimilarity drops results scoring below it. Default 0.30.
	MinSimilarity float32
	// FallbackThreshold triggers web supplementation when the best
	// local similarity falls below it. Default 0.60.
	FallbackThreshold float32
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.30
	}
	if c.FallbackThreshold <= 0 {
		c.FallbackThreshold = 0.60
	}
}

// Result is the outcome of one retrieval pass.
type Result struct {
	// Results holds local chunks ordered by descending similarity,
	// followed by any web chunks in search-rank order.
	Results []knowledge.Result
	// Confidence is the best local similarity, 0 when nothing matched.
	Confidence float32
	// FallbackUsed reports whether web supplementation was attempted.
	FallbackUsed bool
	// Degraded reports that fallback was attempted but failed; the
	// results are local-only.
	Degraded bool
}

// Retriever runs confidence-scored retrieval with web fallback.
type Retriever struct {
	store  Searcher
	web    Supplementer // nil disables fallback
	cfg    Config
	logger *slog.Logger
}

// New creates a Retriever. A nil supplementer disables web fallback;
// low-confidence retrievals then return local results as-is.
func New(store Searcher, web Supplementer, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Retriever{store: store, web: web, cfg: cfg, logger: logger}
}

// Retrieve fetches relevant chunks for the query. Local results below
// MinSimilarity are dropped; when the remaining best score is under
// FallbackThreshold the web is consulted once and its chunks appended
// after the local ones. Store failures return ErrUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string) (*Result, error) {
	rows, err := r.store.Search(ctx, query, knowledge.WithTopK(r.cfg.TopK))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	kept := make([]knowledge.Result, 0, len(rows))
	var confidence float32
	for _, row := range rows {
		if row.Similarity < r.cfg.MinSimilarity {
			continue
		}
		if row.Similarity > confidence {
			confidence = row.Similarity
		}
		kept = append(kept, row)
	}

	result := &Result{Results: kept, Confidence: confidence}

	if confidence >= r.cfg.FallbackThreshold || r.web == nil {
		r.logger.Debug("retrieval completed",
			"query", query, "results", len(kept), "confidence", confidence)
		return result, nil
	}

	result.FallbackUsed = true
	webResults, webErr := r.web.Supplement(ctx, query)
	if webErr != nil {
		if errors.Is(webErr, websearch.ErrDegraded) {
			r.logger.Warn("web fallback degraded", "query", query, "error", webErr)
			result.Degraded = true
			return result, nil
		}
		return nil, fmt.Errorf("web fallback: %w", webErr)
	}
	result.Results = append(result.Results, webResults...)

	r.logger.Info("retrieval completed with web fallback",
		"query", query, "local", len(kept), "web", len(webResults), "confidence", confidence)
	return result, nil
}

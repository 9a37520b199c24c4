package websearch

import (
	"context"
	"errors"
	"testing"

	"github.com/codelake/codelake/internal/knowledge"
	"github.com/codelake/codelake/internal/log"
)

type stubSearcher struct {
	results []Result
	err     error
}

func (s *stubSearcher) Search(context.Context, string) ([]Result, error) {
	return s.results, s.err
}

type stubFetcher struct {
	pages map[string]string
}

func (f *stubFetcher) Fetch([]string) map[string]string {
	return f.pages
}

func TestSupplement(t *testing.T) {
	search := &stubSearcher{results: []Result{
		{URL: "https://docs.example.com/s3", Title: "S3 Guide", Snippet: "snippet one"},
		{URL: "https://docs.example.com/ec2", Title: "EC2 Guide", Snippet: "snippet two"},
	}}
	fetch := &stubFetcher{pages: map[string]string{
		"https://docs.example.com/s3": "full page text about buckets",
	}}
	s := NewSupplementer(search, fetch, log.NewNop())

	results, err := s.Supplement(context.Background(), "list buckets")
	if err != nil {
		t.Fatalf("Supplement: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	// Fetched page text preferred over snippet.
	if results[0].Chunk.Content != "full page text about buckets" {
		t.Errorf("first content = %q", results[0].Chunk.Content)
	}
	// Snippet fallback when the page could not be fetched.
	if results[1].Chunk.Content != "snippet two" {
		t.Errorf("second content = %q", results[1].Chunk.Content)
	}

	for i, r := range results {
		if r.Chunk.Metadata[knowledge.MetaSource] != knowledge.SourceWeb {
			t.Errorf("result %d source = %q, want web", i, r.Chunk.Metadata[knowledge.MetaSource])
		}
		if r.Similarity != 0 {
			t.Errorf("result %d similarity = %v, want 0", i, r.Similarity)
		}
	}
	if results[0].Chunk.Metadata[knowledge.MetaPath] != "https://docs.example.com/s3" {
		t.Errorf("path metadata = %q", results[0].Chunk.Metadata[knowledge.MetaPath])
	}
}

func TestSupplementSearchFailureIsDegraded(t *testing.T) {
	search := &stubSearcher{err: errors.New("connection refused")}
	s := NewSupplementer(search, &stubFetcher{}, log.NewNop())

	results, err := s.Supplement(context.Background(), "query")
	if !errors.Is(err, ErrDegraded) {
		t.Errorf("error = %v, want ErrDegraded", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}

func TestSupplementNoHits(t *testing.T) {
	s := NewSupplementer(&stubSearcher{}, &stubFetcher{}, log.NewNop())

	results, err := s.Supplement(context.Background(), "query")
	if err != nil {
		t.Fatalf("Supplement: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestSupplementDropsEmptyContent(t *testing.T) {
	search := &stubSearcher{results: []Result{
		{URL: "https://a.example.com", Title: "A"},
	}}
	s := NewSupplementer(search, &stubFetcher{}, log.NewNop())

	results, err := s.Supplement(context.Background(), "query")
	if err != nil {
		t.Fatalf("Supplement: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0 (no page text, no snippet)", len(results))
	}
}

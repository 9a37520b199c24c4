package knowledge

import "time"

// Metadata keys used on chunks.
const (
	// MetaSource marks where a chunk came from ("local" or "web").
	MetaSource = "source"

	// MetaSDK names the SDK a chunk documents.
	MetaSDK = "sdk"

	// MetaPath is the file path or URL the chunk was extracted from.
	MetaPath = "path"

	// MetaSection is the documentation section heading, when known.
	MetaSection = "section"
)

// Source values for the MetaSource key.
const (
	SourceLocal = "local"
	SourceWeb   = "web"
)

// Chunk is a unit of documentation text with an associated embedding.
// Chunks are immutable once ingested; the ingestion pipeline owns
// creation, this package owns the read path.
type Chunk struct {
	ID        string            // Unique identifier ("" for synthetic web chunks)
	Content   string            // Chunk text content
	Metadata  map[string]string // Source metadata (sdk, path, section, source)
	CreatedAt time.Time         // Ingestion timestamp
}

// Result is a single search result with its similarity score.
type Result struct {
	Chunk      Chunk
	Similarity float32 // Cosine similarity (0-1)
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int32
	filter  map[string]string
	timeout time.Duration
}

// WithTopK sets the maximum number of results to return. Default is 5.
func WithTopK(k int32) SearchOption {
	return func(c *searchConfig) {
		c.topK = k
	}
}

// WithFilter adds a metadata filter restricting results. Multiple calls
// add additional filters (AND logic).
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithTimeout overrides the per-search timeout. Default is 10 seconds.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		c.timeout = d
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    5,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

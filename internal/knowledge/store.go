// Package knowledge manages the embedded documentation chunk store.
//
// The store holds chunks produced by the (out-of-scope) ingestion
// pipeline and serves the read path: embed a query, run a cosine
// similarity search over pgvector, return scored results. It is safe
// for concurrent use by multiple goroutines.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// Querier defines the database operations the store depends on.
// Defined here, by the consumer, so tests can substitute a mock.
type Querier interface {
	UpsertChunk(ctx context.Context, arg UpsertChunkParams) error
	SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error)
	SearchChunksAll(ctx context.Context, arg SearchChunksAllParams) ([]SearchChunksRow, error)
	CountChunks(ctx context.Context, filterMetadata []byte) (int64, error)
	CountChunksAll(ctx context.Context) (int64, error)
	DeleteChunk(ctx context.Context, id string) error
}

// Store manages documentation chunks with vector search.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store.
//
//	store := knowledge.New(knowledge.NewQueries(pool), embedder, logger)
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
	}
}

// Add embeds and stores a chunk. Uses UPSERT so re-ingestion of the
// same ID replaces content and embedding.
func (s *Store) Add(ctx context.Context, chunk Chunk) error {
	embedding, err := s.embed(ctx, chunk.Content)
	if err != nil {
		return fmt.Errorf("embedding chunk %q: %w", chunk.ID, err)
	}

	metadataJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	err = s.queries.UpsertChunk(ctx, UpsertChunkParams{
		ID:        chunk.ID,
		Content:   chunk.Content,
		Embedding: embedding,
		Metadata:  metadataJSON,
		CreatedAt: pgtype.Timestamptz{Time: chunk.CreatedAt, Valid: !chunk.CreatedAt.IsZero()},
	})
	if err != nil {
		return fmt.Errorf("upserting chunk %q: %w", chunk.ID, err)
	}

	s.logger.Debug("added chunk", "id", chunk.ID, "content_length", len(chunk.Content))
	return nil
}

// Search performs semantic search, returning results ordered by
// descending similarity. A per-search timeout (default 10s) bounds the
// embedding call and the vector query.
//
//	results, err := store.Search(ctx, "list S3 buckets",
//	    knowledge.WithTopK(5),
//	    knowledge.WithFilter(knowledge.MetaSDK, "aws"))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var rows []SearchChunksRow
	if len(cfg.filter) > 0 {
		filterJSON, marshalErr := json.Marshal(cfg.filter)
		if marshalErr != nil {
			return nil, fmt.Errorf("marshaling filter: %w", marshalErr)
		}
		rows, err = s.queries.SearchChunks(queryCtx, SearchChunksParams{
			QueryEmbedding: embedding,
			FilterMetadata: filterJSON,
			ResultLimit:    cfg.topK,
		})
	} else {
		rows, err = s.queries.SearchChunksAll(queryCtx, SearchChunksAllParams{
			QueryEmbedding: embedding,
			ResultLimit:    cfg.topK,
		})
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return s.rowsToResults(rows), nil
}

// Count returns the number of chunks matching the filter, or the total
// count when the filter is empty.
func (s *Store) Count(ctx context.Context, filter map[string]string) (int, error) {
	var count int64
	var err error

	if len(filter) > 0 {
		filterJSON, marshalErr := json.Marshal(filter)
		if marshalErr != nil {
			return 0, fmt.Errorf("marshaling filter: %w", marshalErr)
		}
		count, err = s.queries.CountChunks(ctx, filterJSON)
	} else {
		count, err = s.queries.CountChunksAll(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}

	// Overflow protection for 32-bit platforms.
	if count > math.MaxInt {
		return 0, fmt.Errorf("chunk count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// Delete removes a chunk from the store.
func (s *Store) Delete(ctx context.Context, chunkID string) error {
	if err := s.queries.DeleteChunk(ctx, chunkID); err != nil {
		return fmt.Errorf("deleting chunk %q: %w", chunkID, err)
	}
	s.logger.Debug("deleted chunk", "id", chunkID)
	return nil
}

// embed generates the embedding vector for a piece of text.
func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	vec := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &vec, nil
}

// rowsToResults converts query rows to the business model.
func (s *Store) rowsToResults(rows []SearchChunksRow) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			s.logger.Warn("failed to parse chunk metadata", "chunk_id", row.ID, "error", err)
			metadata = make(map[string]string)
		}

		var createdAt time.Time
		if row.CreatedAt.Valid {
			createdAt = row.CreatedAt.Time
		}

		results = append(results, Result{
			Chunk: Chunk{
				ID:        row.ID,
				Content:   row.Content,
				Metadata:  metadata,
				CreatedAt: createdAt,
			},
			Similarity: row.Similarity,
		})
	}
	return results
}

package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the subset of pgx behavior the query layer needs.
// Both *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements the Querier interface over PostgreSQL + pgvector.
type Queries struct {
	db DBTX
}

// NewQueries creates the query layer bound to the given connection.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// UpsertChunkParams are the parameters for UpsertChunk.
type UpsertChunkParams struct {
	ID        string
	Content   string
	Embedding *pgvector.Vector
	Metadata  []byte
	CreatedAt pgtype.Timestamptz
}

const upsertChunkSQL = `
INSERT INTO chunks (id, content, embedding, metadata, created_at)
VALUES ($1, $2, $3, $4, COALESCE($5, now()))
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata`

// UpsertChunk inserts or updates a chunk.
func (q *Queries) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	var createdAt any
	if arg.CreatedAt.Valid {
		createdAt = arg.CreatedAt
	}
	_, err := q.db.Exec(ctx, upsertChunkSQL,
		arg.ID, arg.Content, arg.Embedding, arg.Metadata, createdAt)
	if err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	return nil
}

// SearchChunksParams are the parameters for the filtered vector search.
type SearchChunksParams struct {
	QueryEmbedding *pgvector.Vector
	FilterMetadata []byte
	ResultLimit    int32
}

// SearchChunksRow is one row of a vector search result.
type SearchChunksRow struct {
	ID         string
	Content    string
	Metadata   []byte
	CreatedAt  pgtype.Timestamptz
	Similarity float32
}

const searchChunksSQL = `
SELECT id, content, metadata, created_at,
       (1 - (embedding <=> $1))::float4 AS similarity
FROM chunks
WHERE metadata @> $2
ORDER BY embedding <=> $1
LIMIT $3`

// SearchChunks performs a metadata-filtered cosine similarity search.
// The JSONB containment operator with a parameterized filter keeps the
// query injection-safe; FilterMetadata must come from json.Marshal.
func (q *Queries) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	rows, err := q.db.Query(ctx, searchChunksSQL,
		arg.QueryEmbedding, arg.FilterMetadata, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()
	return scanSearchRows(rows)
}

// SearchChunksAllParams are the parameters for the unfiltered vector search.
type SearchChunksAllParams struct {
	QueryEmbedding *pgvector.Vector
	ResultLimit    int32
}

const searchChunksAllSQL = `
SELECT id, content, metadata, created_at,
       (1 - (embedding <=> $1))::float4 AS similarity
FROM chunks
ORDER BY embedding <=> $1
LIMIT $2`

// SearchChunksAll performs an unfiltered cosine similarity search.
func (q *Queries) SearchChunksAll(ctx context.Context, arg SearchChunksAllParams) ([]SearchChunksRow, error) {
	rows, err := q.db.Query(ctx, searchChunksAllSQL, arg.QueryEmbedding, arg.ResultLimit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()
	return scanSearchRows(rows)
}

func scanSearchRows(rows pgx.Rows) ([]SearchChunksRow, error) {
	var result []SearchChunksRow
	for rows.Next() {
		var r SearchChunksRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}
	return result, nil
}

// CountChunks counts chunks matching the metadata filter.
func (q *Queries) CountChunks(ctx context.Context, filterMetadata []byte) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE metadata @> $1`, filterMetadata).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// CountChunksAll counts all chunks.
func (q *Queries) CountChunksAll(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// DeleteChunk deletes a chunk by ID.
func (q *Queries) DeleteChunk(ctx context.Context, id string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM chunks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}

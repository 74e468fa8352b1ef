package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"teachings/teachings"
)

type (
	// Index keeps chunks in a postgres table with a pgvector column and
	// ranks them by cosine distance.
	Index struct {
		db *sqlx.DB
	}

	chunkRow struct {
		ID         string          `db:"id"`
		TeachingID string          `db:"teaching_id"`
		ChunkIndex int             `db:"chunk_index"`
		Text       string          `db:"text"`
		StartMs    int64           `db:"start_ms"`
		EndMs      int64           `db:"end_ms"`
		SpanStart  int             `db:"span_start"`
		SpanEnd    int             `db:"span_end"`
		Sentences  []byte          `db:"sentences"`
		VideoURL   sql.NullString  `db:"video_url"`
		GCSPath    sql.NullString  `db:"gcs_path"`
		Embedding  pgvector.Vector `db:"embedding"`
		Similarity float64         `db:"similarity"`
	}
)

var _ teachings.Index = Index{}

func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// New creates the extension and table for vectors of the given dimension.
func New(ctx context.Context, db *sqlx.DB, dim int) (Index, error) {
	if dim < 1 {
		return Index{}, fmt.Errorf("vector dimension must be >= 1, got %d", dim)
	}
	for _, stmt := range schema(dim) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return Index{}, fmt.Errorf("creating chunks schema: %w", err)
		}
	}
	return Index{db: db}, nil
}

func schema(dim int) []string {
	return []string{
		`create extension if not exists vector`,
		fmt.Sprintf(`create table if not exists teaching_chunks (
			id text primary key,
			teaching_id text not null,
			chunk_index integer not null,
			text text not null,
			start_ms bigint not null,
			end_ms bigint not null,
			span_start integer not null,
			span_end integer not null,
			sentences jsonb not null,
			video_url text,
			gcs_path text,
			embedding vector(%d) not null
		)`, dim),
		`create index if not exists teaching_chunks_teaching on teaching_chunks (teaching_id, chunk_index)`,
	}
}

func (r Index) Upsert(ctx context.Context, chunks []teachings.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upserting chunks: begin trx: %w", err)
	}
	defer tx.Rollback()

	const query = `
		insert into teaching_chunks (id, teaching_id, chunk_index, text, start_ms, end_ms,
			span_start, span_end, sentences, video_url, gcs_path, embedding)
		values (:id, :teaching_id, :chunk_index, :text, :start_ms, :end_ms,
			:span_start, :span_end, :sentences, :video_url, :gcs_path, :embedding)
		on conflict (id) do update set
			teaching_id = excluded.teaching_id,
			chunk_index = excluded.chunk_index,
			text = excluded.text,
			start_ms = excluded.start_ms,
			end_ms = excluded.end_ms,
			span_start = excluded.span_start,
			span_end = excluded.span_end,
			sentences = excluded.sentences,
			video_url = excluded.video_url,
			gcs_path = excluded.gcs_path,
			embedding = excluded.embedding`

	for _, c := range chunks {
		row, err := toRow(c)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("upserting chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upserting chunks: commiting: %w", err)
	}
	return nil
}

func (r Index) Query(ctx context.Context, v []float32, fetchK int) ([]teachings.ScoredChunk, error) {
	if fetchK <= 0 {
		return nil, nil
	}
	var rows []chunkRow
	err := r.db.SelectContext(ctx, &rows, `
		select id, teaching_id, chunk_index, text, start_ms, end_ms, span_start, span_end,
			sentences, video_url, gcs_path, embedding,
			1 - (embedding <=> $1) as similarity
		from teaching_chunks
		order by embedding <=> $1, teaching_id, chunk_index
		limit $2`, pgvector.NewVector(v), fetchK)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}

	out := make([]teachings.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		c, err := row.chunk()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r Index) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `truncate teaching_chunks`); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	return nil
}

func toRow(c teachings.IndexedChunk) (chunkRow, error) {
	sentences, err := json.Marshal(c.Sentences)
	if err != nil {
		return chunkRow{}, fmt.Errorf("encoding sentences of %s: %w", c.ID, err)
	}
	row := chunkRow{
		ID:         c.ID,
		TeachingID: c.TeachingID,
		ChunkIndex: c.Index,
		Text:       c.Text,
		StartMs:    int64(c.StartMs),
		EndMs:      int64(c.EndMs),
		SpanStart:  c.SpanStart,
		SpanEnd:    c.SpanEnd,
		Sentences:  sentences,
		Embedding:  pgvector.NewVector(c.Embedding),
	}
	if c.Video != nil {
		row.VideoURL = sql.NullString{String: c.Video.VideoURL, Valid: true}
		row.GCSPath = sql.NullString{String: c.Video.GCSPath, Valid: true}
	}
	return row, nil
}

func (row chunkRow) chunk() (teachings.ScoredChunk, error) {
	c := teachings.ScoredChunk{
		IndexedChunk: teachings.IndexedChunk{
			Chunk: teachings.Chunk{
				ID:         row.ID,
				TeachingID: row.TeachingID,
				Index:      row.ChunkIndex,
				Text:       row.Text,
				StartMs:    uint64(row.StartMs),
				EndMs:      uint64(row.EndMs),
				SpanStart:  row.SpanStart,
				SpanEnd:    row.SpanEnd,
			},
			Embedding: row.Embedding.Slice(),
		},
		Score: row.Similarity,
	}
	if err := json.Unmarshal(row.Sentences, &c.Sentences); err != nil {
		return c, fmt.Errorf("decoding sentences of %s: %w", row.ID, err)
	}
	if row.VideoURL.Valid {
		c.Video = &teachings.VideoRef{VideoURL: row.VideoURL.String, GCSPath: row.GCSPath.String}
	}
	return c, nil
}

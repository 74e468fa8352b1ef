package teachings

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

const sqliteSchema = `
	create table if not exists chunks (
		id text primary key not null,
		teaching_id text not null,
		chunk_index integer not null,
		text text not null,
		start_ms integer not null,
		end_ms integer not null,
		span_start integer not null,
		span_end integer not null,
		sentences text not null,
		video_url text,
		gcs_path text,
		embedding blob not null
	);

	create index if not exists chunks_teaching on chunks (teaching_id, chunk_index);`

const (
	chunkColumns      = 12
	upsertRowsPerStmt = 500
)

type (
	// SQLiteIndex keeps chunks and embeddings in sqlite and answers queries
	// with an exact cosine scan. Writes are serialised; reads run against
	// WAL snapshots.
	SQLiteIndex struct {
		db *sql.DB
		mu *sync.Mutex
	}
)

var _ Index = SQLiteIndex{}

func NewSQLiteIndex(ctx context.Context, db *sql.DB) (SQLiteIndex, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return SQLiteIndex{}, fmt.Errorf("creating chunks table: %w", err)
	}
	return SQLiteIndex{db: db, mu: &sync.Mutex{}}, nil
}

func (r SQLiteIndex) Upsert(ctx context.Context, chunks []IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upserting chunks: begin trx: %w", err)
	}
	for from := 0; from < len(chunks); from += upsertRowsPerStmt {
		to := min(from+upsertRowsPerStmt, len(chunks))
		if err := r.upsertRows(ctx, tx, chunks[from:to]); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback upsert chunks: %w", rbErr)
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upserting chunks: commiting: %w", err)
	}
	return nil
}

func (r SQLiteIndex) upsertRows(ctx context.Context, tx *sql.Tx, chunks []IndexedChunk) error {
	var b strings.Builder
	b.WriteString(`insert into chunks (
		id,
		teaching_id,
		chunk_index,
		text,
		start_ms,
		end_ms,
		span_start,
		span_end,
		sentences,
		video_url,
		gcs_path,
		embedding) values `)

	args := make([]any, 0, chunkColumns*len(chunks))
	for n, c := range chunks {
		if n > 0 {
			b.WriteString(", ")
		}
		base := n * chunkColumns
		b.WriteString("(")
		for i := 1; i <= chunkColumns; i++ {
			if i > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", base+i)
		}
		b.WriteString(")")

		sentences, err := json.Marshal(c.Sentences)
		if err != nil {
			return fmt.Errorf("upserting chunks: encoding sentences of %s: %w", c.ID, err)
		}
		var videoURL, gcsPath sql.NullString
		if c.Video != nil {
			videoURL = sql.NullString{String: c.Video.VideoURL, Valid: true}
			gcsPath = sql.NullString{String: c.Video.GCSPath, Valid: true}
		}
		args = append(args,
			c.ID,
			c.TeachingID,
			c.Index,
			c.Text,
			int64(c.StartMs),
			int64(c.EndMs),
			c.SpanStart,
			c.SpanEnd,
			string(sentences),
			videoURL,
			gcsPath,
			EncodeVector(c.Embedding),
		)
	}
	b.WriteString(` on conflict (id) do update set
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
		embedding = excluded.embedding;`)

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("upserting chunks: %w", err)
	}
	return nil
}

func (r SQLiteIndex) Query(ctx context.Context, vector []float32, fetchK int) ([]ScoredChunk, error) {
	if fetchK <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		select id, teaching_id, chunk_index, text, start_ms, end_ms,
			span_start, span_end, sentences, video_url, gcs_path, embedding
		from chunks
		order by teaching_id, chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var (
			c                 ScoredChunk
			startMs, endMs    int64
			sentences         string
			videoURL, gcsPath sql.NullString
			raw               []byte
		)
		err := rows.Scan(&c.ID, &c.TeachingID, &c.Index, &c.Text, &startMs, &endMs,
			&c.SpanStart, &c.SpanEnd, &sentences, &videoURL, &gcsPath, &raw)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.StartMs, c.EndMs = uint64(startMs), uint64(endMs)
		if err := json.Unmarshal([]byte(sentences), &c.Sentences); err != nil {
			return nil, fmt.Errorf("decoding sentences of %s: %w", c.ID, err)
		}
		if videoURL.Valid {
			c.Video = &VideoRef{VideoURL: videoURL.String, GCSPath: gcsPath.String}
		}
		c.Embedding = DecodeVector(raw)
		c.Score = cosine(vector, c.Embedding)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > fetchK {
		out = out[:fetchK]
	}
	return out, nil
}

func (r SQLiteIndex) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.db.ExecContext(ctx, "delete from chunks"); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (r SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "select count(*) from chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// EncodeVector packs v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func DecodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

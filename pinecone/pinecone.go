package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"teachings/logger"
	"teachings/teachings"
)

// Pinecone rejects upsert requests over 2MB.
const upsertBatch = 100

type Config struct {
	APIKey     string
	APIVersion string
	// Host is the index data plane host. A bare host gets https://.
	Host      string
	Namespace string
	Timeout   time.Duration
}

type (
	vector struct {
		ID       string         `json:"id"`
		Values   []float32      `json:"values"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	upsertRequest struct {
		Vectors   []vector `json:"vectors"`
		Namespace string   `json:"namespace,omitempty"`
	}

	upsertResponse struct {
		UpsertedCount int64 `json:"upsertedCount"`
	}

	queryRequest struct {
		Namespace       string    `json:"namespace,omitempty"`
		Vector          []float32 `json:"vector"`
		TopK            int       `json:"topK"`
		IncludeValues   bool      `json:"includeValues"`
		IncludeMetadata bool      `json:"includeMetadata"`
	}

	queryMatch struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Values   []float32      `json:"values,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}

	queryResponse struct {
		Matches []queryMatch `json:"matches"`
	}

	deleteRequest struct {
		DeleteAll bool   `json:"deleteAll"`
		Namespace string `json:"namespace,omitempty"`
	}

	HTTPError struct {
		StatusCode int
		Body       string
	}
)

func (e *HTTPError) Error() string {
	return fmt.Sprintf("pinecone http %d: %s", e.StatusCode, e.Body)
}

// Index stores chunks in a Pinecone index. Sentences are kept in metadata
// as a JSON string because Pinecone metadata cannot nest objects.
type Index struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

var _ teachings.Index = (*Index)(nil)

func New(log *logger.Logger, cfg Config) (*Index, error) {
	if log == nil {
		log = logger.Nop()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("missing Pinecone index host")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-10"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Index{
		log:     log.With("client", "PineconeIndex"),
		cfg:     cfg,
		baseURL: host,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *Index) Upsert(ctx context.Context, chunks []teachings.IndexedChunk) error {
	for from := 0; from < len(chunks); from += upsertBatch {
		to := min(from+upsertBatch, len(chunks))
		req := upsertRequest{Namespace: p.cfg.Namespace, Vectors: make([]vector, 0, to-from)}
		for _, c := range chunks[from:to] {
			md, err := metadata(c)
			if err != nil {
				return err
			}
			req.Vectors = append(req.Vectors, vector{ID: c.ID, Values: c.Embedding, Metadata: md})
		}
		resp, err := doJSON[upsertResponse](p, ctx, http.MethodPost, "/vectors/upsert", req)
		if err != nil {
			return fmt.Errorf("pinecone upsert: %w", err)
		}
		p.log.Debug("vectors upserted", "count", resp.UpsertedCount)
	}
	return nil
}

func (p *Index) Query(ctx context.Context, v []float32, fetchK int) ([]teachings.ScoredChunk, error) {
	if fetchK <= 0 {
		return nil, nil
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("pinecone query: vector required")
	}
	resp, err := doJSON[queryResponse](p, ctx, http.MethodPost, "/query", queryRequest{
		Namespace:       p.cfg.Namespace,
		Vector:          v,
		TopK:            fetchK,
		IncludeValues:   true,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}

	out := make([]teachings.ScoredChunk, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		c, err := fromMetadata(m.ID, m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("pinecone query: match %s: %w", m.ID, err)
		}
		c.Embedding = m.Values
		out = append(out, teachings.ScoredChunk{IndexedChunk: c, Score: m.Score})
	}
	return out, nil
}

func (p *Index) Clear(ctx context.Context) error {
	_, err := doJSON[struct{}](p, ctx, http.MethodPost, "/vectors/delete", deleteRequest{
		DeleteAll: true,
		Namespace: p.cfg.Namespace,
	})
	// Serverless indexes answer 404 for a namespace that holds no vectors.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		p.log.Debug("namespace already empty", "namespace", p.cfg.Namespace)
		return nil
	}
	if err != nil {
		return fmt.Errorf("pinecone delete all: %w", err)
	}
	return nil
}

func metadata(c teachings.IndexedChunk) (map[string]any, error) {
	sentences, err := json.Marshal(c.Sentences)
	if err != nil {
		return nil, fmt.Errorf("encoding sentences of %s: %w", c.ID, err)
	}
	md := map[string]any{
		"teaching_name": c.TeachingID,
		"chunk_index":   c.Index,
		"text":          c.Text,
		"start_ms":      c.StartMs,
		"end_ms":        c.EndMs,
		"start_seconds": float64(c.StartMs) / 1000,
		"end_seconds":   float64(c.EndMs) / 1000,
		"span_start":    c.SpanStart,
		"span_end":      c.SpanEnd,
		"sentences":     string(sentences),
	}
	if c.Video != nil {
		md["video_url"] = c.Video.VideoURL
		md["gcs_path"] = c.Video.GCSPath
	}
	return md, nil
}

func fromMetadata(id string, md map[string]any) (teachings.IndexedChunk, error) {
	c := teachings.IndexedChunk{Chunk: teachings.Chunk{
		ID:         id,
		TeachingID: str(md["teaching_name"]),
		Index:      int(num(md["chunk_index"])),
		Text:       str(md["text"]),
		StartMs:    uint64(num(md["start_ms"])),
		EndMs:      uint64(num(md["end_ms"])),
		SpanStart:  int(num(md["span_start"])),
		SpanEnd:    int(num(md["span_end"])),
	}}
	if s := str(md["sentences"]); s != "" {
		if err := json.Unmarshal([]byte(s), &c.Sentences); err != nil {
			return c, fmt.Errorf("decoding sentences: %w", err)
		}
	}
	if u := str(md["video_url"]); u != "" {
		c.Video = &teachings.VideoRef{VideoURL: u, GCSPath: str(md["gcs_path"])}
	}
	return c, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num reads a JSON number. Pinecone returns all metadata numbers as floats.
func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

func doJSON[T any](p *Index, ctx context.Context, method, path string, body any) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", p.cfg.APIVersion)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pinecone decode error: %w; raw=%s", err, string(raw))
	}
	return &out, nil
}

package teachings

import "errors"

var (
	// ErrMalformedTranscript marks a transcript row that cannot be parsed. The
	// teaching is skipped, the batch continues.
	ErrMalformedTranscript = errors.New("malformed transcript")

	// ErrInvalidChunkConfig aborts ingestion before any work starts.
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// ErrEmbeddingProvider is returned once retries against the embedding
	// provider are exhausted.
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrIndexUnavailable means the similarity index cannot be reached.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrUnresolvedVideoMapping is recorded, never returned: the chunk is
	// stored without a video reference.
	ErrUnresolvedVideoMapping = errors.New("unresolved video mapping")
)

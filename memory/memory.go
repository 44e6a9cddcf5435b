package memory

import (
	"context"
	"time"

	"github.com/becomeliminal/nim-buddy/core"
)

// Store is the durable, append-only utterance archive.
// Implementations: chromem.Store (chromem-go index plus JSON metadata).
//
// Every record corresponds to exactly one indexed vector at the same
// ordinal position; implementations keep the two in lockstep.
type Store interface {
	// Add embeds text, appends it and persists the store before returning.
	// Text must be non-empty.
	Add(ctx context.Context, text string, speaker core.Speaker, ts time.Time) (Record, error)

	// Search returns up to topK records nearest to query, closest first.
	// An empty store yields an empty result, not an error.
	Search(ctx context.Context, query string, topK int) ([]Match, error)

	// Len returns the number of stored records.
	Len() int

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing), onnx.Embedder (local model),
// cached.Embedder (ristretto cache wrapping any other embedder).
//
// Embed must be deterministic for identical input and every vector it
// returns has Dimensions() entries.
type Embedder interface {
	// Embed converts each text to one embedding vector, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// EmbedOne embeds a single text through e.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, &DimensionMismatchError{Expected: 1, Actual: len(vecs), what: "embedding count"}
	}
	return vecs[0], nil
}

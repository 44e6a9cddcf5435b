// Package cached puts a ristretto cache in front of another embedder.
//
// Embedders are deterministic, so a cached vector is always valid. The
// companion embeds every utterance twice (once to store it, once as the
// retrieval query), which makes the second call a guaranteed hit.
package cached

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/becomeliminal/nim-buddy/memory"
)

// Config configures the cache.
type Config struct {
	// MaxBytes bounds the memory held by cached vectors.
	// Default: 64 MiB.
	MaxBytes int64

	// NumCounters sizes ristretto's admission sketch; roughly ten times the
	// expected number of cached texts.
	// Default: 100000.
	NumCounters int64
}

// Embedder caches the vectors produced by an inner memory.Embedder.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
	group singleflight.Group
}

var _ memory.Embedder = (*Embedder)(nil)

// New wraps inner with a cache.
func New(inner memory.Embedder, cfg Config) (*Embedder, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns cached vectors where available and embeds the rest through
// the inner embedder in a single batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missing []int
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			out[i] = slices.Clone(v.([]float32))
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	if len(missing) == 1 {
		// Concurrent requests for the same single text share one call.
		text := texts[missing[0]]
		v, err, _ := e.group.Do(text, func() (interface{}, error) {
			vecs, err := e.inner.Embed(ctx, []string{text})
			if err != nil {
				return nil, err
			}
			if len(vecs) != 1 {
				return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs))
			}
			e.store(text, vecs[0])
			return vecs[0], nil
		})
		if err != nil {
			return nil, err
		}
		out[missing[0]] = slices.Clone(v.([]float32))
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	vecs, err := e.inner.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	for j, i := range missing {
		e.store(batch[j], vecs[j])
		out[i] = vecs[j]
	}
	return out, nil
}

func (e *Embedder) store(text string, vec []float32) {
	e.cache.Set(text, slices.Clone(vec), int64(len(vec)*4+len(text)))
}

// Dimensions returns the inner embedder's dimension.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until pending cache writes are applied.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache. The inner embedder is left open.
func (e *Embedder) Close() error {
	e.cache.Close()
	return nil
}

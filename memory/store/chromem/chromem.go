package chromem

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-buddy/core"
	"github.com/becomeliminal/nim-buddy/memory"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memory store is closed")

// Config configures a Store.
type Config struct {
	// Dir holds the index and metadata files. Created if missing.
	Dir string

	// IndexFile is the chromem-go export of the vector index.
	// Default: "memory.index"
	IndexFile string

	// MetaFile is the JSON array of records.
	// Default: "memory.json"
	MetaFile string

	// Collection names the chromem collection inside the index file.
	// Default: "memories"
	Collection string

	// Embedder computes utterance embeddings. Required.
	Embedder memory.Embedder

	// Compress stores the index zstd-compressed. Either form loads.
	Compress bool
}

// Store is the append-only, similarity-searchable utterance archive.
// chromem-go holds the vectors; the record list holds the metadata at the
// same ordinal positions. Both change only inside Add, under mu.
//
// chromem keeps unit vectors, so each document also carries the norm of the
// embedder's vector. vectors holds the raw embeddings rebuilt from both,
// which is what Search measures distance on.
type Store struct {
	mu       sync.Mutex
	db       *chromem.DB
	col      *chromem.Collection
	records  []memory.Record
	vectors  [][]float32
	embedder memory.Embedder
	dims     int
	files    snapshotFiles
	name     string
	closed   bool
}

var _ memory.Store = (*Store)(nil)

// Open loads the store persisted under cfg.Dir, or initializes and persists
// an empty one when neither file exists. Exactly one file present, or files
// that disagree, fail with memory.ErrCorruptStore.
func Open(cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Embedder.Dimensions() <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Embedder.Dimensions())
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "memory.index"
	}
	if cfg.MetaFile == "" {
		cfg.MetaFile = "memory.json"
	}
	if cfg.Collection == "" {
		cfg.Collection = "memories"
	}

	s := &Store{
		db:       chromem.NewDB(),
		embedder: cfg.Embedder,
		dims:     cfg.Embedder.Dimensions(),
		name:     cfg.Collection,
		files: snapshotFiles{
			dir:      cfg.Dir,
			index:    filepath.Join(cfg.Dir, cfg.IndexFile),
			meta:     filepath.Join(cfg.Dir, cfg.MetaFile),
			compress: cfg.Compress,
		},
	}

	indexExists, metaExists, err := s.files.exist()
	if err != nil {
		return nil, err
	}

	switch {
	case indexExists && metaExists:
		if err := s.load(); err != nil {
			return nil, err
		}
		log.Printf("[CHROMEM] Loaded %d memories from %s", len(s.records), cfg.Dir)

	case indexExists != metaExists:
		return nil, fmt.Errorf("%w: only one of %s and %s exists",
			memory.ErrCorruptStore, s.files.index, s.files.meta)

	default:
		col, err := s.db.CreateCollection(s.name, nil, s.embeddingFunc())
		if err != nil {
			return nil, fmt.Errorf("create collection: %w", err)
		}
		s.col = col
		if err := s.files.save(s.db, s.name, s.records); err != nil {
			return nil, fmt.Errorf("persist empty store: %w", err)
		}
		log.Printf("[CHROMEM] Initialized empty store in %s", cfg.Dir)
	}

	return s, nil
}

// load reads both files and checks they describe the same records.
func (s *Store) load() error {
	records, err := s.files.loadRecords()
	if err != nil {
		return err
	}
	for i, rec := range records {
		if rec.ID != int64(i) {
			return fmt.Errorf("%w: record at position %d has id %d", memory.ErrCorruptStore, i, rec.ID)
		}
	}

	if err := s.files.loadIndex(s.db, s.name); err != nil {
		return err
	}
	col := s.db.GetCollection(s.name, s.embeddingFunc())
	if col == nil {
		return fmt.Errorf("%w: index has no collection %q", memory.ErrCorruptStore, s.name)
	}
	if col.Count() != len(records) {
		return fmt.Errorf("%w: index holds %d vectors, metadata holds %d records",
			memory.ErrCorruptStore, col.Count(), len(records))
	}

	vectors := make([][]float32, len(records))
	for i := range records {
		doc, err := col.GetByID(context.Background(), strconv.Itoa(i))
		if err != nil {
			return fmt.Errorf("%w: index has no vector for record %d: %v", memory.ErrCorruptStore, i, err)
		}
		if len(doc.Embedding) != s.dims {
			return fmt.Errorf("%w: vector %d: %v", memory.ErrCorruptStore, i,
				&memory.DimensionMismatchError{Expected: s.dims, Actual: len(doc.Embedding)})
		}
		norm, err := strconv.ParseFloat(doc.Metadata[normKey], 64)
		if err != nil || norm < 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return fmt.Errorf("%w: vector %d has invalid norm %q", memory.ErrCorruptStore, i, doc.Metadata[normKey])
		}
		vectors[i] = scale(doc.Embedding, norm)
	}

	s.col = col
	s.records = records
	s.vectors = vectors
	return nil
}

// Add embeds text and appends it. The record is durable when Add returns
// nil; on any failure the store is left exactly as it was.
func (s *Store) Add(ctx context.Context, text string, speaker core.Speaker, ts time.Time) (memory.Record, error) {
	if strings.TrimSpace(text) == "" {
		return memory.Record{}, memory.ErrEmptyText
	}

	vec, err := memory.EmbedOne(ctx, s.embedder, text)
	if err != nil {
		return memory.Record{}, fmt.Errorf("embed text: %w", err)
	}
	if err := memory.CheckDimensions(vec, s.dims); err != nil {
		return memory.Record{}, err
	}
	unit, norm := splitNorm(vec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return memory.Record{}, ErrClosed
	}

	rec := memory.Record{
		ID:        int64(len(s.records)),
		Text:      text,
		Speaker:   speaker,
		Timestamp: ts,
	}
	docID := strconv.FormatInt(rec.ID, 10)

	err = s.col.AddDocument(ctx, chromem.Document{
		ID:        docID,
		Content:   text,
		Embedding: unit,
		Metadata: map[string]string{
			"speaker": string(speaker),
			"ts":      ts.UTC().Format(time.RFC3339Nano),
			normKey:   strconv.FormatFloat(norm, 'g', -1, 64),
		},
	})
	if err != nil {
		return memory.Record{}, fmt.Errorf("add document: %w", err)
	}
	s.records = append(s.records, rec)
	s.vectors = append(s.vectors, slices.Clone(vec))

	if err := s.files.save(s.db, s.name, s.records); err != nil {
		// Not durable: undo both halves so the index and records agree.
		s.records = s.records[:len(s.records)-1]
		s.vectors = s.vectors[:len(s.vectors)-1]
		if derr := s.col.Delete(context.Background(), nil, nil, docID); derr != nil {
			log.Printf("[CHROMEM] Rollback of record #%d failed: %v", rec.ID, derr)
			return memory.Record{}, errors.Join(fmt.Errorf("persist store: %w", err), derr)
		}
		return memory.Record{}, fmt.Errorf("persist store: %w", err)
	}

	log.Printf("[CHROMEM] Stored memory: id=%d, speaker=%s", rec.ID, speaker)
	return rec, nil
}

// Search returns up to topK records nearest to query by squared Euclidean
// distance between the embedder's vectors, closest first, ties by ascending
// id. topK is clamped to the record count.
//
// The scan is exhaustive over the raw vectors. chromem ranks by cosine on
// unit vectors, which only agrees with L2 when every embedding has length 1
// and cannot order duplicate vectors by id.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]memory.Match, error) {
	qv, err := memory.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := memory.CheckDimensions(qv, s.dims); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	n := min(topK, len(s.records))
	if n <= 0 {
		return nil, nil
	}

	matches := make([]memory.Match, len(s.records))
	for i, rec := range s.records {
		matches[i] = memory.Match{
			Record:   rec,
			Distance: squaredL2(qv, s.vectors[i]),
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Record.ID < matches[j].Record.ID
	})
	matches = matches[:n]

	log.Printf("[CHROMEM] Query returned %d of %d memories", len(matches), len(s.records))
	return matches, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// IndexSize returns the number of vectors in the index. It always equals Len.
func (s *Store) IndexSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.Count()
}

// Dimensions returns the fixed embedding dimension.
func (s *Store) Dimensions() int {
	return s.dims
}

// Records returns a copy of all records in insertion order.
func (s *Store) Records() []memory.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// Close marks the store closed. Everything is already on disk.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// embeddingFunc lets chromem embed through the store's embedder. The store
// always supplies vectors itself, so chromem only calls this if a document
// arrives without one.
func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return memory.EmbedOne(ctx, s.embedder, text)
	}
}

// normKey is the document metadata field holding the vector's norm.
const normKey = "norm"

// splitNorm returns vec scaled to unit length and its original norm. A zero
// vector is indexed as the first basis vector with norm 0, which scale turns
// back into zeros.
func splitNorm(vec []float32) ([]float32, float64) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	unit := make([]float32, len(vec))
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		unit[0] = 1
		return unit, 0
	}
	for i, v := range vec {
		unit[i] = float32(float64(v) / norm)
	}
	return unit, norm
}

// scale returns vec multiplied by norm.
func scale(vec []float32, norm float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * norm)
	}
	return out
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

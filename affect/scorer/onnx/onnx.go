//go:build onnx

package onnx

import (
	"context"
	"fmt"
	"log"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/core"
	embedonnx "github.com/becomeliminal/nim-buddy/memory/embedder/onnx"
)

// Config configures the classifier.
type Config struct {
	ModelPath     string
	TokenizerPath string
	LibraryPath   string

	// Labels is the classifier's output order (default: DefaultLabels).
	Labels []string

	// LabelMap folds Labels onto core emotions (default: DefaultLabelMap).
	LabelMap map[string]core.Emotion

	// MaxLength is the padded sequence length (default: 128).
	MaxLength int
}

// Scorer implements affect.Scorer with an ONNX sequence classifier.
type Scorer struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	tokenizer *embedonnx.Tokenizer
	labels    []string
	labelMap  map[string]core.Emotion
	maxLen    int
}

var _ affect.Scorer = (*Scorer)(nil)

// New loads the classifier.
func New(cfg Config) (*Scorer, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, fmt.Errorf("ModelPath and TokenizerPath are required")
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = DefaultLabels
	}
	if cfg.LabelMap == nil {
		cfg.LabelMap = DefaultLabelMap
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 128
	}

	if err := embedonnx.InitRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}

	tokenizer, err := embedonnx.LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	log.Printf("[ONNX] Emotion classifier loaded %s (%d labels)", cfg.ModelPath, len(cfg.Labels))

	return &Scorer{
		session:   session,
		tokenizer: tokenizer,
		labels:    cfg.Labels,
		labelMap:  cfg.LabelMap,
		maxLen:    cfg.MaxLength,
	}, nil
}

// Score implements affect.Scorer.
func (s *Scorer) Score(ctx context.Context, text string) (core.Scores, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enc := s.tokenizer.Encode(text, s.maxLen)

	s.mu.Lock()
	logits, shape, err := embedonnx.Run(s.session, []embedonnx.Encoding{enc})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[1] != int64(len(s.labels)) {
		return nil, fmt.Errorf("classifier output shape %v does not match %d labels", shape, len(s.labels))
	}

	return Fold(logits, s.labels, s.labelMap), nil
}

// Close releases the session.
func (s *Scorer) Close() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

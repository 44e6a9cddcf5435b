//go:build !onnx

package main

import (
	"fmt"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/config"
	"github.com/becomeliminal/nim-buddy/memory"
	"github.com/becomeliminal/nim-buddy/memory/embedder/mock"
)

var errNoONNX = fmt.Errorf("built without onnx support; rebuild with -tags onnx")

func newEmbedder(cfg config.EmbedderConfig) (memory.Embedder, error) {
	if cfg.Kind == config.KindONNX {
		return nil, errNoONNX
	}
	return mock.New(cfg.Dimensions), nil
}

func newScorer(cfg config.ScorerConfig) (affect.Scorer, error) {
	if cfg.Kind == config.KindONNX {
		return nil, errNoONNX
	}
	return affect.NewLexiconScorer(nil), nil
}

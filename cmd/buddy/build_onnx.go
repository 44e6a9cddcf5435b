//go:build onnx

package main

import (
	"github.com/becomeliminal/nim-buddy/affect"
	scoreronnx "github.com/becomeliminal/nim-buddy/affect/scorer/onnx"
	"github.com/becomeliminal/nim-buddy/config"
	"github.com/becomeliminal/nim-buddy/memory"
	"github.com/becomeliminal/nim-buddy/memory/embedder/mock"
	"github.com/becomeliminal/nim-buddy/memory/embedder/onnx"
)

func newEmbedder(cfg config.EmbedderConfig) (memory.Embedder, error) {
	if cfg.Kind != config.KindONNX {
		return mock.New(cfg.Dimensions), nil
	}
	return onnx.New(onnx.Config{
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		LibraryPath:   cfg.LibraryPath,
		Dimensions:    cfg.Dimensions,
	})
}

func newScorer(cfg config.ScorerConfig) (affect.Scorer, error) {
	if cfg.Kind != config.KindONNX {
		return affect.NewLexiconScorer(nil), nil
	}
	return scoreronnx.New(scoreronnx.Config{
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		LibraryPath:   cfg.LibraryPath,
	})
}

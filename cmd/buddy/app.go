package main

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/config"
	"github.com/becomeliminal/nim-buddy/engine"
	"github.com/becomeliminal/nim-buddy/memory"
	"github.com/becomeliminal/nim-buddy/memory/embedder/cached"
	"github.com/becomeliminal/nim-buddy/memory/store/chromem"
)

// app holds the wired components for one process.
type app struct {
	config  *config.Config
	store   *chromem.Store
	manager *memory.Manager
	engine  *engine.Engine
	closers []io.Closer
}

// openStore builds the embedder stack and opens the persisted store.
func openStore(cfg *config.Config) (*chromem.Store, []io.Closer, error) {
	var closers []io.Closer

	embedder, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, nil, err
	}
	if c, ok := embedder.(io.Closer); ok {
		closers = append(closers, c)
	}

	if cfg.Memory.CacheMB > 0 {
		c, err := cached.New(embedder, cached.Config{MaxBytes: cfg.Memory.CacheMB << 20})
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, c)
		embedder = c
	}

	store, err := chromem.Open(chromem.Config{
		Dir:      cfg.Memory.Dir,
		Embedder: embedder,
		Compress: cfg.Memory.Compress,
	})
	if err != nil {
		closeAll(closers)
		return nil, nil, fmt.Errorf("open memory store: %w", err)
	}
	return store, closers, nil
}

// newApp wires the full engine.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{config: cfg}

	var opts []engine.Option
	if cfg.Memory.Enabled {
		store, closers, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, closers...)
		a.manager = memory.NewManager(store, cfg.ManagerConfig())
		opts = append(opts, engine.WithMemory(a.manager))
	}

	scorer, err := newScorer(cfg.Scorer)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := scorer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	var generator engine.Generator
	if !cfg.LLM.Offline {
		generator = engine.NewClaudeGenerator(cfg.ClaudeConfig())
	} else {
		log.Printf("[ENGINE] Offline mode: replies come from the fallback list")
	}

	a.engine = engine.NewEngine(generator, scorer, affect.NewAggregator(cfg.AggregatorConfig()), opts...)
	return a, nil
}

// Close releases the store, then the models in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, closeAll(a.closers))
	return errors.Join(errs...)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i].Close())
	}
	return errors.Join(errs...)
}

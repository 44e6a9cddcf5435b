// Package config loads the companion's settings from a JSON or YAML file,
// then applies BUDDY_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/core"
	"github.com/becomeliminal/nim-buddy/engine"
	"github.com/becomeliminal/nim-buddy/memory"
)

// Embedder and scorer kinds.
const (
	KindMock    = "mock"
	KindLexicon = "lexicon"
	KindONNX    = "onnx"
)

// Config is the full settings tree, one section per component.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Memory   MemoryConfig   `json:"memory" yaml:"memory"`
	Affect   AffectConfig   `json:"affect" yaml:"affect"`
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`
	Scorer   ScorerConfig   `json:"scorer" yaml:"scorer"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
}

// ServerConfig controls the WebSocket listener and its per-connection rate
// limit.
type ServerConfig struct {
	Addr              string   `json:"addr" yaml:"addr" env:"BUDDY_SERVER_ADDR"`
	Stream            bool     `json:"stream" yaml:"stream" env:"BUDDY_SERVER_STREAM"`
	MessagesPerSecond float64  `json:"messages_per_second" yaml:"messages_per_second" env:"BUDDY_SERVER_MESSAGES_PER_SECOND"`
	Burst             int      `json:"burst" yaml:"burst" env:"BUDDY_SERVER_BURST"`
	AllowedOrigins    []string `json:"allowed_origins" yaml:"allowed_origins" env:"BUDDY_SERVER_ALLOWED_ORIGINS"`
}

// MemoryConfig controls where utterances are persisted and how recall
// summaries are built.
type MemoryConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"BUDDY_MEMORY_ENABLED"`
	Dir      string `json:"dir" yaml:"dir" env:"BUDDY_MEMORY_DIR"`
	TopK     int    `json:"top_k" yaml:"top_k" env:"BUDDY_MEMORY_TOP_K"`
	Concise  bool   `json:"concise" yaml:"concise" env:"BUDDY_MEMORY_CONCISE"`
	MaxChars int    `json:"max_chars" yaml:"max_chars" env:"BUDDY_MEMORY_MAX_CHARS"`
	Compress bool   `json:"compress" yaml:"compress" env:"BUDDY_MEMORY_COMPRESS"`
	CacheMB  int64  `json:"cache_mb" yaml:"cache_mb" env:"BUDDY_MEMORY_CACHE_MB"` // 0 disables the embedding cache
}

// AffectConfig controls the mood window and how samples are weighted.
type AffectConfig struct {
	WindowSeconds int     `json:"window_seconds" yaml:"window_seconds" env:"BUDDY_AFFECT_WINDOW_SECONDS"`
	MaxItems      int     `json:"max_items" yaml:"max_items" env:"BUDDY_AFFECT_MAX_ITEMS"`
	DecaySeconds  float64 `json:"decay_seconds" yaml:"decay_seconds" env:"BUDDY_AFFECT_DECAY_SECONDS"`
	SpeakerBoost  float64 `json:"speaker_boost" yaml:"speaker_boost" env:"BUDDY_AFFECT_SPEAKER_BOOST"`
}

// EmbedderConfig selects the sentence embedder. The paths are only read for
// KindONNX.
type EmbedderConfig struct {
	Kind          string `json:"kind" yaml:"kind" env:"BUDDY_EMBEDDER_KIND"`
	Dimensions    int    `json:"dimensions" yaml:"dimensions" env:"BUDDY_EMBEDDER_DIMENSIONS"`
	ModelPath     string `json:"model_path" yaml:"model_path" env:"BUDDY_EMBEDDER_MODEL_PATH"`
	TokenizerPath string `json:"tokenizer_path" yaml:"tokenizer_path" env:"BUDDY_EMBEDDER_TOKENIZER_PATH"`
	LibraryPath   string `json:"library_path" yaml:"library_path" env:"BUDDY_ONNX_LIBRARY_PATH"`
}

// ScorerConfig selects the emotion scorer. The paths are only read for
// KindONNX.
type ScorerConfig struct {
	Kind          string `json:"kind" yaml:"kind" env:"BUDDY_SCORER_KIND"`
	ModelPath     string `json:"model_path" yaml:"model_path" env:"BUDDY_SCORER_MODEL_PATH"`
	TokenizerPath string `json:"tokenizer_path" yaml:"tokenizer_path" env:"BUDDY_SCORER_TOKENIZER_PATH"`
	LibraryPath   string `json:"library_path" yaml:"library_path" env:"BUDDY_ONNX_LIBRARY_PATH"`
}

// LLMConfig configures reply generation through the Anthropic API.
type LLMConfig struct {
	// APIKey falls back to ANTHROPIC_API_KEY when empty.
	APIKey       string `json:"api_key" yaml:"api_key" env:"BUDDY_LLM_API_KEY"`
	Model        string `json:"model" yaml:"model" env:"BUDDY_LLM_MODEL"`
	MaxTokens    int64  `json:"max_tokens" yaml:"max_tokens" env:"BUDDY_LLM_MAX_TOKENS"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt" env:"BUDDY_LLM_SYSTEM_PROMPT"`

	// Offline answers with canned replies only.
	Offline bool `json:"offline" yaml:"offline" env:"BUDDY_LLM_OFFLINE"`
}

// DefaultConfig returns settings using the mock embedder and lexicon
// scorer, with memory persisted under ./data.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8000",
			MessagesPerSecond: 2,
			Burst:             5,
		},
		Memory: MemoryConfig{
			Enabled:  true,
			Dir:      "data",
			TopK:     memory.DefaultConfig.TopK,
			Concise:  memory.DefaultConfig.Concise,
			MaxChars: memory.DefaultConfig.MaxChars,
			CacheMB:  64,
		},
		Affect: AffectConfig{
			WindowSeconds: 3600,
			MaxItems:      200,
			DecaySeconds:  affect.DefaultBlendOptions.Decay.Seconds(),
			SpeakerBoost:  affect.DefaultBlendOptions.SpeakerBoost,
		},
		Embedder: EmbedderConfig{
			Kind:       KindMock,
			Dimensions: 384,
		},
		Scorer: ScorerConfig{
			Kind: KindLexicon,
		},
		LLM: LLMConfig{
			Model:     engine.DefaultClaudeConfig.Model,
			MaxTokens: engine.DefaultClaudeConfig.MaxTokens,
		},
	}
}

// Load reads path over the defaults, picking YAML for .yaml/.yml and JSON
// otherwise, then applies environment overrides and validates. An empty or
// missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config error: server.addr cannot be empty")
	}
	if c.Server.MessagesPerSecond <= 0 || c.Server.Burst <= 0 {
		return fmt.Errorf("config error: server.messages_per_second and server.burst must be greater than 0")
	}

	if c.Memory.Enabled && c.Memory.Dir == "" {
		return fmt.Errorf("config error: memory.dir cannot be empty")
	}
	if c.Memory.TopK <= 0 {
		return fmt.Errorf("config error: memory.top_k must be greater than 0")
	}

	if c.Affect.WindowSeconds <= 0 || c.Affect.MaxItems <= 0 {
		return fmt.Errorf("config error: affect.window_seconds and affect.max_items must be greater than 0")
	}
	if c.Affect.DecaySeconds <= 0 {
		return fmt.Errorf("config error: affect.decay_seconds must be greater than 0")
	}
	if c.Affect.SpeakerBoost <= 0 {
		return fmt.Errorf("config error: affect.speaker_boost must be greater than 0")
	}

	switch c.Embedder.Kind {
	case KindMock:
	case KindONNX:
		if c.Embedder.ModelPath == "" || c.Embedder.TokenizerPath == "" {
			return fmt.Errorf("config error: embedder.model_path and embedder.tokenizer_path are required for onnx")
		}
	default:
		return fmt.Errorf("config error: unknown embedder.kind %q", c.Embedder.Kind)
	}
	if c.Embedder.Dimensions <= 0 {
		return fmt.Errorf("config error: embedder.dimensions must be greater than 0")
	}

	switch c.Scorer.Kind {
	case KindLexicon:
	case KindONNX:
		if c.Scorer.ModelPath == "" || c.Scorer.TokenizerPath == "" {
			return fmt.Errorf("config error: scorer.model_path and scorer.tokenizer_path are required for onnx")
		}
	default:
		return fmt.Errorf("config error: unknown scorer.kind %q", c.Scorer.Kind)
	}

	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config error: llm.max_tokens must be greater than 0")
	}
	return nil
}

// AggregatorConfig converts the affect settings.
func (c *Config) AggregatorConfig() affect.Config {
	return affect.Config{
		Window:   time.Duration(c.Affect.WindowSeconds) * time.Second,
		MaxItems: c.Affect.MaxItems,
		BlendOptions: affect.BlendOptions{
			Decay:        time.Duration(c.Affect.DecaySeconds * float64(time.Second)),
			BoostSpeaker: core.SpeakerUser,
			SpeakerBoost: c.Affect.SpeakerBoost,
		},
	}
}

// ManagerConfig converts the memory settings.
func (c *Config) ManagerConfig() *memory.Config {
	return &memory.Config{
		Enabled:  c.Memory.Enabled,
		TopK:     c.Memory.TopK,
		Concise:  c.Memory.Concise,
		MaxChars: c.Memory.MaxChars,
	}
}

// ClaudeConfig converts the LLM settings.
func (c *Config) ClaudeConfig() engine.ClaudeConfig {
	return engine.ClaudeConfig{
		APIKey:       c.LLM.APIKey,
		Model:        c.LLM.Model,
		MaxTokens:    c.LLM.MaxTokens,
		SystemPrompt: c.LLM.SystemPrompt,
	}
}

// String returns a summary of the configuration with secrets hidden.
func (c *Config) String() string {
	return fmt.Sprintf(`Buddy Configuration:
  Server:   addr=%s stream=%v rate=%.1f/s burst=%d
  Memory:   enabled=%v dir=%s top_k=%d concise=%v compress=%v cache=%dMB
  Affect:   window=%ds max_items=%d decay=%.0fs boost=%.2f
  Embedder: %s (%d dims)
  Scorer:   %s
  LLM:      model=%s max_tokens=%d offline=%v api_key=%s`,
		c.Server.Addr, c.Server.Stream, c.Server.MessagesPerSecond, c.Server.Burst,
		c.Memory.Enabled, c.Memory.Dir, c.Memory.TopK, c.Memory.Concise, c.Memory.Compress, c.Memory.CacheMB,
		c.Affect.WindowSeconds, c.Affect.MaxItems, c.Affect.DecaySeconds, c.Affect.SpeakerBoost,
		c.Embedder.Kind, c.Embedder.Dimensions,
		c.Scorer.Kind,
		c.LLM.Model, c.LLM.MaxTokens, c.LLM.Offline, redactAPIKey(c.LLM.APIKey),
	)
}

func redactAPIKey(value string) string {
	if value == "" {
		return "(not configured)"
	}
	if len(value) > 8 {
		return value[:8] + "..."
	}
	return "***"
}

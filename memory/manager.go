package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/becomeliminal/nim-buddy/core"
)

// Manager sits between the engine and a Store. It decides what gets
// recorded and turns search hits into a prompt-ready summary.
//
// The engine decides WHEN to use memory (record each utterance, retrieve
// before generating a reply); the Manager decides HOW.
type Manager struct {
	store  Store
	config *Config
}

// NewManager creates a new Manager.
func NewManager(store Store, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	return &Manager{
		store:  store,
		config: config,
	}
}

// Record stores one utterance. Empty or whitespace-only text is skipped.
func (m *Manager) Record(ctx context.Context, text string, speaker core.Speaker, ts time.Time) error {
	if !m.config.Enabled {
		return nil // Memory disabled
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	rec, err := m.store.Add(ctx, text, speaker, ts)
	if err != nil {
		return fmt.Errorf("store utterance: %w", err)
	}

	log.Printf("[MEMORY] Stored record #%d from %s (%q)", rec.ID, rec.Speaker, truncateLog(text, 50))
	return nil
}

// Retrieve searches the store for query and returns the summary to inject
// into the reply prompt. No hits yields "".
func (m *Manager) Retrieve(ctx context.Context, query string) (string, error) {
	if !m.config.Enabled {
		return "", nil // Memory disabled
	}

	matches, err := m.store.Search(ctx, query, m.config.TopK)
	if err != nil {
		return "", fmt.Errorf("search store: %w", err)
	}

	log.Printf("[MEMORY] Retrieved %d memories for query: %q", len(matches), truncateLog(query, 50))
	if len(matches) == 0 {
		return "", nil
	}

	return Summarize(matches, m.config.Concise, m.config.MaxChars), nil
}

// Summarize condenses search hits.
//
// Concise mode returns the text of the farthest user utterance among the
// hits: the nearest hit is normally the utterance that was recorded just
// before the search, so echoing it back adds nothing. Verbose mode lists
// every hit as "speaker: text", closest first.
func Summarize(matches []Match, concise bool, maxChars int) string {
	if len(matches) == 0 {
		return ""
	}

	if concise {
		for i := len(matches) - 1; i >= 0; i-- {
			if matches[i].Record.Speaker == core.SpeakerUser {
				return matches[i].Record.Text
			}
		}
		return ""
	}

	perMemory := 0
	if maxChars > 0 {
		perMemory = maxChars / len(matches)
		if perMemory < 100 {
			perMemory = 100
		}
	}

	lines := make([]string, 0, len(matches))
	for _, match := range matches {
		lines = append(lines, match.Record.Format(FormatContext{MaxLength: perMemory}))
	}
	return strings.Join(lines, "\n")
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Config holds Manager configuration.
type Config struct {
	// Enabled toggles recording and retrieval.
	// Default: true.
	Enabled bool

	// TopK is the number of nearest memories fetched per query.
	// Default: 3
	TopK int

	// Concise selects the single-utterance summary instead of the
	// "speaker: text" listing.
	// Default: true
	Concise bool

	// MaxChars caps the verbose summary. Zero means no cap.
	// Default: 2000
	MaxChars int
}

// DefaultConfig returns the defaults used by the companion server.
var DefaultConfig = &Config{
	Enabled:  true,
	TopK:     3,
	Concise:  true,
	MaxChars: 2000,
}

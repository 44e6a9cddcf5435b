package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/core"
	"github.com/becomeliminal/nim-buddy/memory"
)

// ErrEmptyInput is returned by Handle for blank utterances.
var ErrEmptyInput = errors.New("empty input")

// Engine runs one conversational turn: it tracks the user's mood, records
// and recalls memories, and generates Buddy's reply.
type Engine struct {
	generator  Generator
	scorer     affect.Scorer
	aggregator *affect.Aggregator
	memory     *memory.Manager // Optional: memory system for recall/storage
	now        func() time.Time
}

// Option configures the engine.
type Option func(*Engine)

// WithMemory configures the engine with a memory manager.
func WithMemory(m *memory.Manager) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// WithClock overrides the time source used for reply timestamps and blending.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine. scorer and aggregator are required.
func NewEngine(generator Generator, scorer affect.Scorer, aggregator *affect.Aggregator, opts ...Option) *Engine {
	e := &Engine{
		generator:  generator,
		scorer:     scorer,
		aggregator: aggregator,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Input is one inbound utterance.
type Input struct {
	// Text is what was said.
	Text string

	// Speaker defaults to core.SpeakerUser.
	Speaker core.Speaker

	// Timestamp defaults to the engine clock.
	Timestamp time.Time

	// ConversationID is echoed back; a new one is assigned when empty.
	ConversationID string

	// StreamCallback is an optional callback for streaming the reply.
	StreamCallback func(chunk string, done bool)
}

// Output is Buddy's reply and the mood it was generated under.
type Output struct {
	ConversationID string              `json:"conversation_id"`
	Text           string              `json:"text"`
	Emotion        core.Emotion        `json:"emotion"`
	Expression     string              `json:"expression"`
	Blended        core.Scores         `json:"blended_scores"`
	Voice          affect.VoiceProfile `json:"voice"`

	// Fallback is set when the reply is a canned line.
	Fallback bool `json:"-"`
}

// Handle processes one utterance end to end.
func (e *Engine) Handle(ctx context.Context, input *Input) (*Output, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	speaker := input.Speaker.OrUser()
	ts := input.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	conversationID := input.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	// === PHASE 1: SCORE THE UTTERANCE ===
	// Inbound text is always the user's turn for mood purposes; the speaker
	// name is kept for memory only.
	if err := e.observe(ctx, text, core.SpeakerUser, ts); err != nil {
		return nil, err
	}

	// === PHASE 2: RECORD AND RECALL ===
	var summary string
	if e.memory != nil {
		if err := e.memory.Record(ctx, text, speaker, ts); err != nil {
			log.Printf("[MEMORY] Record failed: %v", err) // Non-fatal
		}
		var err error
		summary, err = e.memory.Retrieve(ctx, text)
		if err != nil {
			log.Printf("[MEMORY] Retrieval failed: %v", err)
			summary = ""
		}
	}

	// === PHASE 3: BLEND MOOD ===
	mood, blended := e.aggregator.Blended(e.now())
	log.Printf("[ENGINE] Mood %s for conversation %s", mood, conversationID)

	// === PHASE 4: GENERATE ===
	prompt := Prompt{UserText: text, Context: BuildContext(summary, string(mood))}
	reply, fallback := e.generate(ctx, prompt, input.StreamCallback)

	// === PHASE 5: TRACK THE REPLY ===
	replyTS := e.now()
	if err := e.observe(ctx, reply, core.SpeakerAssistant, replyTS); err != nil {
		log.Printf("[ENGINE] Reply not scored: %v", err) // Non-fatal
	}
	if e.memory != nil {
		if err := e.memory.Record(ctx, reply, core.SpeakerAssistant, replyTS); err != nil {
			log.Printf("[MEMORY] Record reply failed: %v", err)
		}
	}

	return &Output{
		ConversationID: conversationID,
		Text:           reply,
		Emotion:        mood,
		Expression:     affect.ExpressionFor(mood),
		Blended:        blended,
		Voice:          affect.VoiceFor(mood),
		Fallback:       fallback,
	}, nil
}

// Mood returns the current blended mood without adding a sample.
func (e *Engine) Mood() (core.Emotion, core.Scores) {
	return e.aggregator.Blended(e.now())
}

// observe scores text and adds it to the aggregator.
func (e *Engine) observe(ctx context.Context, text string, speaker core.Speaker, ts time.Time) error {
	scores, err := e.scorer.Score(ctx, text)
	if err != nil {
		return fmt.Errorf("score %s utterance: %w", speaker, err)
	}
	if err := e.aggregator.Add(affect.Sample{Timestamp: ts, Speaker: speaker, Scores: scores}); err != nil {
		return fmt.Errorf("add %s sample: %w", speaker, err)
	}
	return nil
}

// generate asks the generator for a reply, falling back to a canned line
// on error or an empty reply.
func (e *Engine) generate(ctx context.Context, prompt Prompt, stream func(string, bool)) (string, bool) {
	if e.generator != nil {
		reply, err := e.generator.Generate(ctx, prompt, stream)
		if err == nil && strings.TrimSpace(reply) != "" {
			return strings.TrimSpace(reply), false
		}
		if err != nil {
			log.Printf("[ENGINE] Generation failed, using fallback: %v", err)
		} else {
			log.Printf("[ENGINE] Empty reply, using fallback")
		}
	}

	reply := FallbackReply()
	if stream != nil {
		stream(reply, false)
		stream("", true)
	}
	return reply, true
}

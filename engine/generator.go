package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Generator produces Buddy's reply for one turn. stream may be nil; when it
// is set, implementations call it with each text chunk and a final done=true.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt, stream func(chunk string, done bool)) (string, error)
}

// ClaudeConfig configures the Claude generator.
type ClaudeConfig struct {
	APIKey       string
	Model        string
	MaxTokens    int64
	SystemPrompt string
}

// DefaultClaudeConfig holds the generator defaults.
var DefaultClaudeConfig = ClaudeConfig{
	Model:        "claude-sonnet-4-20250514",
	MaxTokens:    512,
	SystemPrompt: DefaultSystemPrompt,
}

// ClaudeGenerator generates replies with the Anthropic Messages API.
type ClaudeGenerator struct {
	client anthropic.Client
	config ClaudeConfig
}

var _ Generator = (*ClaudeGenerator)(nil)

// NewClaudeGenerator creates a generator. Zero config fields take their
// DefaultClaudeConfig values; an empty APIKey falls back to the SDK's
// ANTHROPIC_API_KEY lookup.
func NewClaudeGenerator(cfg ClaudeConfig) *ClaudeGenerator {
	if cfg.Model == "" {
		cfg.Model = DefaultClaudeConfig.Model
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultClaudeConfig.MaxTokens
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultClaudeConfig.SystemPrompt
	}

	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &ClaudeGenerator{
		client: anthropic.NewClient(opts...),
		config: cfg,
	}
}

// Generate implements Generator.
func (g *ClaudeGenerator) Generate(ctx context.Context, prompt Prompt, stream func(string, bool)) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.config.Model),
		MaxTokens: g.config.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.Render())),
		},
		System: []anthropic.TextBlockParam{
			{Text: g.config.SystemPrompt},
		},
	}

	var resp *anthropic.Message
	var err error
	if stream != nil {
		resp, err = g.createMessageStreaming(ctx, params, stream)
	} else {
		resp, err = g.client.Messages.New(ctx, params)
	}
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	log.Printf("[ENGINE] Claude reply: %d input / %d output tokens", resp.Usage.InputTokens, resp.Usage.OutputTokens)

	return messageText(resp), nil
}

// createMessageStreaming handles streaming API calls.
func (g *ClaudeGenerator) createMessageStreaming(ctx context.Context, params anthropic.MessageNewParams, callback func(string, bool)) (*anthropic.Message, error) {
	stream := g.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			log.Printf("[ENGINE] Stream accumulate: %v", err)
		}

		switch evt := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok {
				callback(delta.Text, false)
			}
		case anthropic.MessageStopEvent:
			callback("", true)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}

// messageText concatenates the text blocks of a response.
func messageText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// fillers are used when no model reply is available.
var fillers = []string{
	"I'm here with you. Tell me a little more?",
	"Hmm, I'm listening. How are you feeling about it?",
	"That's worth talking about. What's on your mind?",
	"I hear you. Want to keep going?",
	"Sorry, my thoughts drifted for a second. Could you say that again?",
	"I'm right here. What happened next?",
}

// FallbackReply returns a random canned reply.
func FallbackReply() string {
	return fillers[rand.IntN(len(fillers))]
}

// IsFallback reports whether reply is one of the canned replies.
func IsFallback(reply string) bool {
	return slices.Contains(fillers, reply)
}

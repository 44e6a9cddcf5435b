package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/core"
	"github.com/becomeliminal/nim-buddy/engine"
	"github.com/becomeliminal/nim-buddy/memory"
	"github.com/becomeliminal/nim-buddy/memory/embedder/mock"
	"github.com/becomeliminal/nim-buddy/memory/store/chromem"
)

// fakeGenerator returns canned replies and records the prompts it saw.
type fakeGenerator struct {
	replies []string
	err     error
	prompts []engine.Prompt
}

func (f *fakeGenerator) Generate(_ context.Context, p engine.Prompt, stream func(string, bool)) (string, error) {
	f.prompts = append(f.prompts, p)
	if f.err != nil {
		return "", f.err
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	if stream != nil {
		for _, word := range strings.SplitAfter(reply, " ") {
			stream(word, false)
		}
		stream("", true)
	}
	return reply, nil
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, string) (core.Scores, error) {
	return nil, errors.New("model unavailable")
}

// replyFailingScorer scores with the lexicon until it sees the reply text.
type replyFailingScorer struct {
	reply string
	next  affect.Scorer
}

func (s replyFailingScorer) Score(ctx context.Context, text string) (core.Scores, error) {
	if text == s.reply {
		return nil, errors.New("model unavailable")
	}
	return s.next.Score(ctx, text)
}

type fixture struct {
	engine *engine.Engine
	gen    *fakeGenerator
	agg    *affect.Aggregator
	store  *chromem.Store
}

func newFixture(t *testing.T, gen *fakeGenerator) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store, err := chromem.Open(chromem.Config{Dir: t.TempDir(), Embedder: mock.New(64)})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	agg := affect.NewAggregator(affect.Config{Window: time.Hour, MaxItems: 200, Now: clock})
	e := engine.NewEngine(gen, affect.NewLexiconScorer(nil), agg,
		engine.WithMemory(memory.NewManager(store, nil)),
		engine.WithClock(clock),
	)
	return &fixture{engine: e, gen: gen, agg: agg, store: store}
}

func TestEngine_Handle(t *testing.T) {
	f := newFixture(t, &fakeGenerator{replies: []string{"That's wonderful to hear!"}})

	out, err := f.engine.Handle(context.Background(), &engine.Input{Text: "I'm so happy today!"})
	require.NoError(t, err)

	assert.Equal(t, "That's wonderful to hear!", out.Text)
	assert.Equal(t, core.Joy, out.Emotion)
	assert.Equal(t, "smile", out.Expression)
	assert.Equal(t, affect.VoiceFor(core.Joy), out.Voice)
	assert.Len(t, out.Blended, len(core.Labels))
	assert.NotEmpty(t, out.ConversationID)
	assert.False(t, out.Fallback)

	// The user utterance and the reply are both remembered and scored.
	assert.Equal(t, 2, f.store.Len())
	assert.Equal(t, 2, f.agg.Len())
	records := f.store.Records()
	assert.Equal(t, core.SpeakerUser, records[0].Speaker)
	assert.Equal(t, core.SpeakerAssistant, records[1].Speaker)

	require.Len(t, f.gen.prompts, 1)
	assert.Equal(t, "I'm so happy today!", f.gen.prompts[0].UserText)
	assert.True(t, strings.HasSuffix(f.gen.prompts[0].Context, "\nUser_emotion:joy"))
}

func TestEngine_RecallsEarlierUtterances(t *testing.T) {
	f := newFixture(t, &fakeGenerator{replies: []string{"Tell me more."}})
	ctx := context.Background()

	_, err := f.engine.Handle(ctx, &engine.Input{Text: "my sister Ana is visiting next week", ConversationID: "c1"})
	require.NoError(t, err)
	out, err := f.engine.Handle(ctx, &engine.Input{Text: "what should we cook", ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "c1", out.ConversationID)

	require.Len(t, f.gen.prompts, 2)
	assert.Equal(t, "my sister Ana is visiting next week\nUser_emotion:neutral", f.gen.prompts[1].Context)
}

func TestEngine_FallbackReply(t *testing.T) {
	f := newFixture(t, &fakeGenerator{err: errors.New("overloaded")})

	var chunks []string
	done := false
	out, err := f.engine.Handle(context.Background(), &engine.Input{
		Text: "hello there",
		StreamCallback: func(chunk string, d bool) {
			chunks = append(chunks, chunk)
			done = done || d
		},
	})
	require.NoError(t, err)

	assert.True(t, out.Fallback)
	assert.True(t, engine.IsFallback(out.Text))
	assert.Equal(t, out.Text, strings.Join(chunks, ""))
	assert.True(t, done)
	assert.Equal(t, 2, f.store.Len())
}

func TestEngine_EmptyReplyFallsBack(t *testing.T) {
	f := newFixture(t, &fakeGenerator{replies: []string{"   "}})

	out, err := f.engine.Handle(context.Background(), &engine.Input{Text: "hi"})
	require.NoError(t, err)
	assert.True(t, out.Fallback)
}

func TestEngine_StreamsReply(t *testing.T) {
	f := newFixture(t, &fakeGenerator{replies: []string{"glad you are here"}})

	var sb strings.Builder
	out, err := f.engine.Handle(context.Background(), &engine.Input{
		Text:           "hi",
		StreamCallback: func(chunk string, _ bool) { sb.WriteString(chunk) },
	})
	require.NoError(t, err)
	assert.Equal(t, out.Text, sb.String())
}

func TestEngine_EmptyInput(t *testing.T) {
	f := newFixture(t, &fakeGenerator{replies: []string{"x"}})

	_, err := f.engine.Handle(context.Background(), &engine.Input{Text: "  \n"})
	assert.ErrorIs(t, err, engine.ErrEmptyInput)
	assert.Empty(t, f.gen.prompts)
}

func TestEngine_ScorerFailure(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"x"}}
	agg := affect.NewAggregator(affect.Config{})
	e := engine.NewEngine(gen, failingScorer{}, agg)

	_, err := e.Handle(context.Background(), &engine.Input{Text: "hi"})
	assert.ErrorContains(t, err, "model unavailable")
	assert.Empty(t, gen.prompts)
}

func TestEngine_ReplyScorerFailureKeepsReply(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Glad to hear it."}}
	agg := affect.NewAggregator(affect.Config{})
	scorer := replyFailingScorer{reply: "Glad to hear it.", next: affect.NewLexiconScorer(nil)}
	e := engine.NewEngine(gen, scorer, agg)

	out, err := e.Handle(context.Background(), &engine.Input{Text: "I'm so happy today!"})
	require.NoError(t, err)
	assert.Equal(t, "Glad to hear it.", out.Text)
	assert.Equal(t, core.Joy, out.Emotion)
	assert.Equal(t, 1, agg.Len())
}

func TestEngine_NamedSpeakerScoredAsUser(t *testing.T) {
	f := newFixture(t, &fakeGenerator{replies: []string{"ok"}})

	_, err := f.engine.Handle(context.Background(), &engine.Input{Text: "I feel anxious", Speaker: "alice"})
	require.NoError(t, err)

	samples := f.agg.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, core.SpeakerUser, samples[0].Speaker)
	assert.Equal(t, core.SpeakerAssistant, samples[1].Speaker)
	assert.Equal(t, core.Speaker("alice"), f.store.Records()[0].Speaker)
}

func TestEngine_WithoutMemory(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"ok"}}
	e := engine.NewEngine(gen, affect.NewLexiconScorer(nil), affect.NewAggregator(affect.Config{}))

	out, err := e.Handle(context.Background(), &engine.Input{Text: "I feel anxious", Speaker: "user"})
	require.NoError(t, err)
	assert.Equal(t, core.Fear, out.Emotion)
	assert.Equal(t, "\nUser_emotion:fear", gen.prompts[0].Context)

	mood, _ := e.Mood()
	assert.Equal(t, core.Fear, mood)
}

func TestPrompt_Render(t *testing.T) {
	p := engine.Prompt{UserText: "hi", Context: engine.BuildContext("", "calm")}
	assert.Equal(t, "User said: hi\nContext: User_emotion:calm\n", p.Render())
}

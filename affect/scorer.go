package affect

import (
	"context"
	"regexp"
	"strings"

	"github.com/becomeliminal/nim-buddy/core"
)

// Scorer estimates the emotion of one utterance as a distribution over
// core.Labels that sums to 1.
// Implementations: LexiconScorer (keyword based, no model files) and
// onnx.Scorer (BERT emotion classifier, build tag onnx).
type Scorer interface {
	Score(ctx context.Context, text string) (core.Scores, error)
}

// smoothing is the floor every label starts from before normalization, so
// no label is ever exactly zero.
const smoothing = 0.01

var wordPattern = regexp.MustCompile(`[a-z']+`)

// defaultLexicon maps cue words to labels.
var defaultLexicon = map[core.Emotion][]string{
	core.Joy: {
		"happy", "glad", "great", "awesome", "amazing", "love", "loved", "excited",
		"wonderful", "fantastic", "yay", "fun", "delighted", "thrilled", "joy",
	},
	core.Calm: {
		"calm", "relaxed", "peaceful", "fine", "okay", "ok", "chill", "content",
		"rested", "serene", "comfortable", "easy",
	},
	core.Anger: {
		"angry", "mad", "furious", "annoyed", "hate", "irritated", "frustrated",
		"rage", "pissed", "unfair", "stupid",
	},
	core.Sadness: {
		"sad", "unhappy", "depressed", "lonely", "miss", "cry", "crying", "hurt",
		"down", "upset", "heartbroken", "tired", "lost",
	},
	core.Fear: {
		"afraid", "scared", "anxious", "worried", "nervous", "fear", "terrified",
		"panic", "stressed", "stress", "frightened",
	},
	core.Surprise: {
		"wow", "surprised", "unexpected", "shocked", "suddenly", "whoa", "omg",
		"unbelievable",
	},
}

// LexiconScorer is a deterministic keyword scorer. Every label starts at a
// small floor, each cue word adds one to its label, and the result is
// normalized. Text with no cue words leans neutral.
type LexiconScorer struct {
	index map[string]core.Emotion
}

var _ Scorer = (*LexiconScorer)(nil)

// NewLexiconScorer builds a scorer. A nil lexicon selects the built-in one.
func NewLexiconScorer(lexicon map[core.Emotion][]string) *LexiconScorer {
	if lexicon == nil {
		lexicon = defaultLexicon
	}
	index := make(map[string]core.Emotion)
	for label, words := range lexicon {
		for _, w := range words {
			index[strings.ToLower(w)] = label
		}
	}
	return &LexiconScorer{index: index}
}

// Score implements Scorer.
func (l *LexiconScorer) Score(_ context.Context, text string) (core.Scores, error) {
	scores := core.ZeroScores()
	for label := range scores {
		scores[label] = smoothing
	}

	hits := 0
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if label, ok := l.index[word]; ok {
			scores[label]++
			hits++
		}
	}
	if hits == 0 {
		scores[core.Neutral]++
	}

	return scores.Normalize(), nil
}

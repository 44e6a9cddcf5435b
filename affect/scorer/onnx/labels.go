// Package onnx scores utterance emotion with a BERT sequence classifier
// run through ONNX Runtime. The classifier itself needs the onnx build tag;
// the label mapping builds everywhere.
package onnx

import (
	"strings"

	"github.com/becomeliminal/nim-buddy/core"
	embedonnx "github.com/becomeliminal/nim-buddy/memory/embedder/onnx"
)

// DefaultLabels is the output order of bert-base-uncased-emotion.
var DefaultLabels = []string{"sadness", "joy", "love", "anger", "fear", "surprise"}

// DefaultLabelMap folds classifier labels onto the emotion vocabulary.
var DefaultLabelMap = map[string]core.Emotion{
	"sadness":  core.Sadness,
	"joy":      core.Joy,
	"love":     core.Joy,
	"anger":    core.Anger,
	"disgust":  core.Anger,
	"fear":     core.Fear,
	"surprise": core.Surprise,
	"calm":     core.Calm,
	"neutral":  core.Neutral,
}

// Fold softmaxes logits and sums each class probability into its mapped
// emotion. Classes missing from labelMap count toward neutral.
func Fold(logits []float32, labels []string, labelMap map[string]core.Emotion) core.Scores {
	scores := core.ZeroScores()
	for i, p := range embedonnx.Softmax(logits) {
		emotion := core.Neutral
		if i < len(labels) {
			if e, ok := labelMap[strings.ToLower(labels[i])]; ok {
				emotion = e
			}
		}
		scores[emotion] += p
	}
	return scores.Normalize()
}

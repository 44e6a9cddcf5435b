package core

import (
	"fmt"
	"math"
)

// Emotion is a label from the fixed emotion vocabulary.
type Emotion string

const (
	Joy      Emotion = "joy"
	Calm     Emotion = "calm"
	Anger    Emotion = "anger"
	Sadness  Emotion = "sadness"
	Fear     Emotion = "fear"
	Neutral  Emotion = "neutral"
	Surprise Emotion = "surprise"
)

// Labels is the closed emotion vocabulary in enumeration order.
// Anything that picks a single label from a tie uses this order.
var Labels = []Emotion{Joy, Calm, Anger, Sadness, Fear, Neutral, Surprise}

// Valid reports whether e belongs to the vocabulary.
func (e Emotion) Valid() bool {
	for _, l := range Labels {
		if l == e {
			return true
		}
	}
	return false
}

// Scores maps emotion labels to non-negative weights.
// Scorers produce distributions that sum to 1.
type Scores map[Emotion]float64

// ZeroScores returns a map holding 0 for every label.
func ZeroScores() Scores {
	s := make(Scores, len(Labels))
	for _, l := range Labels {
		s[l] = 0
	}
	return s
}

// Validate checks that s is non-empty, uses only known labels, and carries
// finite non-negative weights with a positive total.
func (s Scores) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("empty score map")
	}
	var sum float64
	for label, w := range s {
		if !label.Valid() {
			return fmt.Errorf("unknown emotion label %q", label)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("invalid weight %v for %q", w, label)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("score weights sum to zero")
	}
	return nil
}

// Normalize returns a copy of s covering every label and scaled to sum 1.
// A map with no positive weight normalizes to all-neutral.
func (s Scores) Normalize() Scores {
	out := ZeroScores()
	var sum float64
	for label, w := range s {
		if !label.Valid() || w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		out[label] += w
		sum += w
	}
	if sum == 0 {
		out[Neutral] = 1
		return out
	}
	for label := range out {
		out[label] /= sum
	}
	return out
}

// Top returns the label with the largest weight. Ties go to the label that
// comes first in Labels.
func (s Scores) Top() Emotion {
	top := Neutral
	best := math.Inf(-1)
	for _, l := range Labels {
		if w, ok := s[l]; ok && w > best {
			top, best = l, w
		}
	}
	return top
}

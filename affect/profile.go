package affect

import "github.com/becomeliminal/nim-buddy/core"

// VoiceProfile shapes speech synthesis for a mood. The voice stays the same
// across moods; only speed and pitch change.
type VoiceProfile struct {
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
	Pitch float64 `json:"pitch"`
}

var voiceProfiles = map[core.Emotion]VoiceProfile{
	core.Joy:      {Voice: "alloy", Speed: 1.12, Pitch: 1.05},
	core.Calm:     {Voice: "alloy", Speed: 1.0, Pitch: 1.0},
	core.Anger:    {Voice: "alloy", Speed: 1.2, Pitch: 0.95},
	core.Sadness:  {Voice: "alloy", Speed: 0.98, Pitch: 0.95},
	core.Fear:     {Voice: "alloy", Speed: 1.1, Pitch: 1.1},
	core.Surprise: {Voice: "alloy", Speed: 1.15, Pitch: 1.2},
	core.Neutral:  {Voice: "alloy", Speed: 1.0, Pitch: 1.0},
}

var expressions = map[core.Emotion]string{
	core.Joy:      "smile",
	core.Calm:     "neutral",
	core.Anger:    "angry",
	core.Sadness:  "sad",
	core.Fear:     "fearful",
	core.Surprise: "surprised",
	core.Neutral:  "neutral",
}

// VoiceFor returns the voice profile for e, falling back to neutral.
func VoiceFor(e core.Emotion) VoiceProfile {
	if p, ok := voiceProfiles[e]; ok {
		return p
	}
	return voiceProfiles[core.Neutral]
}

// ExpressionFor returns the avatar expression for e, falling back to
// "neutral".
func ExpressionFor(e core.Emotion) string {
	if x, ok := expressions[e]; ok {
		return x
	}
	return "neutral"
}

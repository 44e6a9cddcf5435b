// Package core holds the small vocabulary types shared by the memory, affect
// and engine packages.
package core

// Speaker tags who produced an utterance. The set is open: transports may
// pass any non-empty tag, but the two below are the ones the engine emits.
type Speaker string

const (
	// SpeakerUser is the human side of the conversation.
	SpeakerUser Speaker = "user"

	// SpeakerAssistant is the companion's own replies.
	SpeakerAssistant Speaker = "assistant"
)

// String returns the tag.
func (s Speaker) String() string {
	return string(s)
}

// OrUser returns s, or SpeakerUser when s is empty.
func (s Speaker) OrUser() Speaker {
	if s == "" {
		return SpeakerUser
	}
	return s
}

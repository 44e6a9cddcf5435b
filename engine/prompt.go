package engine

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt sets Buddy's persona for every reply.
const DefaultSystemPrompt = `You are Buddy, an empathetic AI companion.

Reply naturally, with emotion and understanding. Keep replies short and
conversational, a few sentences at most. The context block may carry things
the user told you earlier and an estimate of their current mood
("User_emotion"); use them when they help, never recite them.`

// Prompt is the per-turn request handed to a Generator.
type Prompt struct {
	// UserText is what the user just said.
	UserText string

	// Context is the memory summary followed by the mood line.
	Context string
}

// Render formats the prompt as the user turn sent to the model.
func (p Prompt) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User said: %s\n", p.UserText)
	if ctx := strings.TrimSpace(p.Context); ctx != "" {
		fmt.Fprintf(&sb, "Context: %s\n", ctx)
	}
	return sb.String()
}

// BuildContext joins the memory summary and the blended mood the same way
// for every generator: "<summary>\nUser_emotion:<mood>".
func BuildContext(summary, mood string) string {
	return summary + "\nUser_emotion:" + mood
}

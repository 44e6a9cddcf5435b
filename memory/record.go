package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/becomeliminal/nim-buddy/core"
)

// Record is one stored utterance.
// Records are created by Store.Add and never mutated afterwards.
type Record struct {
	ID        int64
	Text      string
	Speaker   core.Speaker
	Timestamp time.Time
}

// Match is a search hit: the record and its squared Euclidean distance to
// the query embedding.
type Match struct {
	Record   Record
	Distance float64
}

// FormatContext provides context for memory formatting.
type FormatContext struct {
	Query     string // Current query being answered
	MaxLength int    // Max characters for this memory's output
}

// Format renders the record as a "speaker: text" line for prompt injection.
func (r Record) Format(ctx FormatContext) string {
	text := r.Text
	if ctx.MaxLength > 0 {
		text = truncate(text, ctx.MaxLength)
	}
	return fmt.Sprintf("%s: %s", r.Speaker, text)
}

// recordJSON is the on-disk form: {"id", "text", "speaker", "ts"} with ts in
// fractional Unix seconds.
type recordJSON struct {
	ID      int64   `json:"id"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
	TS      float64 `json:"ts"`
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:      r.ID,
		Text:    r.Text,
		Speaker: string(r.Speaker),
		TS:      unixSeconds(r.Timestamp),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if math.IsNaN(raw.TS) || math.IsInf(raw.TS, 0) {
		return fmt.Errorf("record %d: non-finite timestamp", raw.ID)
	}
	*r = Record{
		ID:        raw.ID,
		Text:      raw.Text,
		Speaker:   core.Speaker(raw.Speaker),
		Timestamp: fromUnixSeconds(raw.TS),
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}

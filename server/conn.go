package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/core"
	"github.com/becomeliminal/nim-buddy/engine"
)

// Outbound frame types.
const (
	FrameReply = "reply"
	FrameChunk = "chunk"
	FrameError = "error"
)

// InboundMessage is the JSON form of a client utterance. Clients may also
// send bare text.
type InboundMessage struct {
	Text    string       `json:"text"`
	Speaker core.Speaker `json:"speaker,omitempty"`
}

// OutboundMessage is every frame the server sends.
type OutboundMessage struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id,omitempty"`
	Text           string               `json:"text,omitempty"`
	Emotion        core.Emotion         `json:"emotion,omitempty"`
	Expression     string               `json:"expression,omitempty"`
	BlendedScores  core.Scores          `json:"blended_scores,omitempty"`
	Voice          *affect.VoiceProfile `json:"voice,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// ParseInbound decodes a client frame. Anything that is not a JSON object
// is taken verbatim as text from the user.
func ParseInbound(data []byte) InboundMessage {
	var msg InboundMessage
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal(data, &msg) == nil {
		msg.Speaker = msg.Speaker.OrUser()
		return msg
	}
	return InboundMessage{Text: string(data), Speaker: core.SpeakerUser}
}

// session is one websocket connection.
type session struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter
	server  *Server
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.config.ReadLimit)

	sess := &session{
		id:      uuid.NewString(),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.Burst),
		server:  s,
	}
	log.Printf("[SERVER] Connection %s opened from %s", sess.id, r.RemoteAddr)
	sess.serve(r.Context())
	log.Printf("[SERVER] Connection %s closed", sess.id)
}

func (c *session) serve(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[SERVER] Read error on %s: %v", c.id, err)
			}
			return
		}

		if !c.limiter.Allow() {
			if err := c.send(OutboundMessage{Type: FrameError, Error: "rate limited, slow down"}); err != nil {
				return
			}
			continue
		}

		if err := c.handle(ctx, ParseInbound(data)); err != nil {
			log.Printf("[SERVER] Write error on %s: %v", c.id, err)
			return
		}
	}
}

// handle answers one message. Only write failures are returned; handler
// errors go back to the client as error frames.
func (c *session) handle(ctx context.Context, msg InboundMessage) error {
	input := &engine.Input{
		Text:           msg.Text,
		Speaker:        msg.Speaker,
		Timestamp:      time.Now(),
		ConversationID: c.id,
	}

	var writeErr error
	if c.server.config.Stream {
		input.StreamCallback = func(chunk string, done bool) {
			if done || chunk == "" || writeErr != nil {
				return
			}
			writeErr = c.send(OutboundMessage{Type: FrameChunk, ConversationID: c.id, Text: chunk})
		}
	}

	out, err := c.server.config.Handler.Handle(ctx, input)
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		text := "something went wrong"
		if errors.Is(err, engine.ErrEmptyInput) {
			text = "empty message"
		} else {
			log.Printf("[SERVER] Handle failed on %s: %v", c.id, err)
		}
		return c.send(OutboundMessage{Type: FrameError, ConversationID: c.id, Error: text})
	}

	return c.send(OutboundMessage{
		Type:           FrameReply,
		ConversationID: out.ConversationID,
		Text:           out.Text,
		Emotion:        out.Emotion,
		Expression:     out.Expression,
		BlendedScores:  out.Blended,
		Voice:          &out.Voice,
	})
}

func (c *session) send(msg OutboundMessage) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

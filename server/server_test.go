package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-buddy/affect"
	"github.com/becomeliminal/nim-buddy/core"
	"github.com/becomeliminal/nim-buddy/engine"
	"github.com/becomeliminal/nim-buddy/server"
)

// echoHandler replies with the text it was given.
type echoHandler struct {
	mu     sync.Mutex
	inputs []engine.Input
}

func (h *echoHandler) Handle(_ context.Context, in *engine.Input) (*engine.Output, error) {
	h.mu.Lock()
	h.inputs = append(h.inputs, *in)
	h.mu.Unlock()

	if strings.TrimSpace(in.Text) == "" {
		return nil, engine.ErrEmptyInput
	}
	if in.Text == "boom" {
		return nil, errors.New("boom")
	}
	reply := "you said " + in.Text
	if in.StreamCallback != nil {
		in.StreamCallback("you said ", false)
		in.StreamCallback(in.Text, false)
		in.StreamCallback("", true)
	}
	return &engine.Output{
		ConversationID: in.ConversationID,
		Text:           reply,
		Emotion:        core.Calm,
		Expression:     affect.ExpressionFor(core.Calm),
		Blended:        core.Scores{core.Calm: 1},
		Voice:          affect.VoiceFor(core.Calm),
	}, nil
}

func (h *echoHandler) received() []engine.Input {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.Input(nil), h.inputs...)
}

func dial(t *testing.T, cfg server.Config) (*websocket.Conn, *echoHandler) {
	t.Helper()
	h := &echoHandler{}
	cfg.Handler = h
	srv, err := server.New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, h
}

func readFrame(t *testing.T, conn *websocket.Conn) server.OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg server.OutboundMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_JSONMessage(t *testing.T) {
	conn, h := dial(t, server.Config{})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"hello","speaker":"user"}`)))
	msg := readFrame(t, conn)

	assert.Equal(t, server.FrameReply, msg.Type)
	assert.Equal(t, "you said hello", msg.Text)
	assert.Equal(t, core.Calm, msg.Emotion)
	assert.Equal(t, "neutral", msg.Expression)
	assert.InDelta(t, 1.0, msg.BlendedScores[core.Calm], 1e-9)
	require.NotNil(t, msg.Voice)
	assert.Equal(t, "alloy", msg.Voice.Voice)
	assert.NotEmpty(t, msg.ConversationID)

	inputs := h.received()
	require.Len(t, inputs, 1)
	assert.Equal(t, core.SpeakerUser, inputs[0].Speaker)
}

func TestServer_RawTextMessage(t *testing.T) {
	conn, h := dial(t, server.Config{})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("just words")))
	msg := readFrame(t, conn)
	assert.Equal(t, "you said just words", msg.Text)

	// One conversation id per connection.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("more words")))
	second := readFrame(t, conn)
	assert.Equal(t, msg.ConversationID, second.ConversationID)
	inputs := h.received()
	require.Len(t, inputs, 2)
	assert.Equal(t, inputs[0].ConversationID, inputs[1].ConversationID)
}

func TestServer_Streaming(t *testing.T) {
	conn, _ := dial(t, server.Config{Stream: true})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":"hi"}`)))

	first := readFrame(t, conn)
	second := readFrame(t, conn)
	final := readFrame(t, conn)

	assert.Equal(t, server.FrameChunk, first.Type)
	assert.Equal(t, server.FrameChunk, second.Type)
	assert.Equal(t, "you said hi", first.Text+second.Text)
	assert.Equal(t, server.FrameReply, final.Type)
	assert.Equal(t, "you said hi", final.Text)
}

func TestServer_ErrorFrames(t *testing.T) {
	conn, _ := dial(t, server.Config{})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"text":""}`)))
	msg := readFrame(t, conn)
	assert.Equal(t, server.FrameError, msg.Type)
	assert.Equal(t, "empty message", msg.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("boom")))
	msg = readFrame(t, conn)
	assert.Equal(t, server.FrameError, msg.Type)
	assert.Equal(t, "something went wrong", msg.Error)

	// The connection survives handler errors.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("still here")))
	assert.Equal(t, "you said still here", readFrame(t, conn).Text)
}

func TestServer_RateLimit(t *testing.T) {
	conn, h := dial(t, server.Config{MessagesPerSecond: 0.001, Burst: 1})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("one")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("two")))

	assert.Equal(t, server.FrameReply, readFrame(t, conn).Type)
	limited := readFrame(t, conn)
	assert.Equal(t, server.FrameError, limited.Type)
	assert.Contains(t, limited.Error, "rate limited")
	assert.Len(t, h.received(), 1)
}

func TestServer_Health(t *testing.T) {
	srv, err := server.New(server.Config{Handler: &echoHandler{}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_AllowedOrigins(t *testing.T) {
	srv, err := server.New(server.Config{Handler: &echoHandler{}, AllowedOrigins: []string{"http://app.local"}})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.local"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://app.local"}})
	require.NoError(t, err)
	conn.Close()
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	srv, err := server.New(server.Config{Handler: &echoHandler{}})
	require.NoError(t, err)

	// Reserve a free port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestParseInbound(t *testing.T) {
	msg := server.ParseInbound([]byte(`{"text":"hi","speaker":"assistant"}`))
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, core.SpeakerAssistant, msg.Speaker)

	msg = server.ParseInbound([]byte(`{not json`))
	assert.Equal(t, "{not json", msg.Text)
	assert.Equal(t, core.SpeakerUser, msg.Speaker)
}

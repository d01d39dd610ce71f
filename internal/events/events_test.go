package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/gokatarajesh/quizforge/pkg/http/ws"
)

// subscribedClient connects a real WebSocket client whose server side is
// registered on hub and subscribed to token.
func subscribedClient(t *testing.T, hub *ws.Hub, token string) *websocket.Conn {
	t.Helper()
	ready := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := ws.NewConnection(raw, zerolog.Nop())
		hub.Register(conn)
		hub.Subscribe(token, conn.ID)
		close(ready)
		conn.WritePump()
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server side never subscribed")
	}
	return client
}

func TestNewEventMarshalsPayload(t *testing.T) {
	owner := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	evt, err := New(TypeReviewSuggested, "tok", owner, at, map[string]any{"streak": 4})
	require.NoError(t, err)
	assert.Equal(t, TypeReviewSuggested, evt.Type)
	assert.Equal(t, owner, evt.OwnerID)
	assert.JSONEq(t, `{"streak":4}`, string(evt.Payload))

	bare, err := New(TypeSessionFinished, "tok", owner, at, nil)
	require.NoError(t, err)
	assert.Nil(t, bare.Payload)
}

func TestHubPublisherDeliversToSubscribers(t *testing.T) {
	hub := ws.NewHub(zerolog.Nop())
	client := subscribedClient(t, hub, "tok")

	evt, err := New(TypeAnswerEvaluated, "tok", uuid.New(), time.Now().UTC(), map[string]bool{"correct": true})
	require.NoError(t, err)
	require.NoError(t, NewHubPublisher(hub).Publish(context.Background(), evt))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, client.ReadJSON(&msg))
	assert.Equal(t, TypeAnswerEvaluated, msg.Type)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, "tok", got.SessionToken)
	assert.JSONEq(t, `{"correct":true}`, string(got.Payload))
}

func TestHubPublisherSkipsUnwatchedSessions(t *testing.T) {
	hub := ws.NewHub(zerolog.Nop())
	evt, err := New(TypeSessionCreated, "nobody-listens", uuid.New(), time.Now(), nil)
	require.NoError(t, err)
	assert.NoError(t, NewHubPublisher(hub).Publish(context.Background(), evt))
}

func TestBroadcasterForward(t *testing.T) {
	hub := ws.NewHub(zerolog.Nop())
	client := subscribedClient(t, hub, "tok")
	b := NewBroadcaster(nil, hub, "", zerolog.Nop())

	b.forward("not json")
	evt, err := New(TypeSessionFinished, "tok", uuid.New(), time.Now().UTC(), nil)
	require.NoError(t, err)
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	b.forward(string(data))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, client.ReadJSON(&msg))
	assert.Equal(t, TypeSessionFinished, msg.Type)
}

func TestBroadcasterRunWithoutRedis(t *testing.T) {
	b := NewBroadcaster(nil, ws.NewHub(zerolog.Nop()), "", zerolog.Nop())
	assert.NoError(t, b.Run(context.Background()))
}

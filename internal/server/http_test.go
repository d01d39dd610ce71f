package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokatarajesh/quizforge/internal/auth/jwt"
	"github.com/gokatarajesh/quizforge/internal/config"
	"github.com/gokatarajesh/quizforge/internal/db/memstore"
	"github.com/gokatarajesh/quizforge/internal/events"
	"github.com/gokatarajesh/quizforge/internal/question"
	"github.com/gokatarajesh/quizforge/internal/quiz"
	"github.com/gokatarajesh/quizforge/internal/session"
	httperrors "github.com/gokatarajesh/quizforge/pkg/http/errors"
	"github.com/gokatarajesh/quizforge/pkg/http/ws"
)

type testServer struct {
	srv    *httptest.Server
	tokens *jwt.Manager
	owner  uuid.UUID
	bearer string
}

func newTestServer(t *testing.T, health map[string]HealthCheck) *testServer {
	t.Helper()
	store := memstore.New()
	hub := ws.NewHub(zerolog.Nop())

	var n atomic.Int32
	gen := question.GeneratorFunc(func(context.Context, question.GenerateRequest) (question.Generated, error) {
		return question.Generated{
			Type:          quiz.TypeIdentification,
			Stem:          fmt.Sprintf("Capital of France? (%d)", n.Add(1)),
			CorrectAnswer: []string{"Paris"},
			Explanation:   "Paris is the capital.",
		}, nil
	})
	issuer := question.NewIssuer(store, gen, question.IssuerOptions{}, zerolog.Nop())
	engine := session.NewEngine(store, issuer, session.Options{Publisher: events.NewHubPublisher(hub)}, zerolog.Nop())

	tokens := jwt.NewManager(jwt.TokenConfig{Secret: []byte("test-secret")})
	router := NewRouter(RouterOptions{
		Engine:  engine,
		Auth:    tokens,
		Hub:     hub,
		CORS:    config.CORS{AllowedOrigins: []string{"http://localhost:3000"}, AllowedMethods: []string{"GET", "POST", "PATCH"}},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		Health:  health,
	}, zerolog.Nop())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	owner := uuid.New()
	bearer, err := tokens.GenerateAccessToken(owner)
	require.NoError(t, err)
	return &testServer{srv: srv, tokens: tokens, owner: owner, bearer: bearer}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodPost, "/v1/sessions", s.bearer, map[string]any{
		"content":      "Paris is the capital of France.",
		"maxQuestions": 2,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	snap := decode[session.Snapshot](t, resp)
	require.NotNil(t, snap.Pending)
	assert.Equal(t, quiz.DifficultyMedium, snap.Pending.Difficulty)

	resp = s.do(t, http.MethodPost, "/v1/sessions/"+snap.Token+"/answers", s.bearer, map[string]any{
		"questionId": snap.Pending.ID,
		"answer":     "paris",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[session.AnswerResult](t, resp)
	assert.True(t, res.Correct)
	assert.Equal(t, quiz.DifficultyMedium, res.DifficultyAfter, "a lone correct answer holds")
	require.NotNil(t, res.Next)
	assert.False(t, res.Done)

	// Replaying the same question conflicts.
	resp = s.do(t, http.MethodPost, "/v1/sessions/"+snap.Token+"/answers", s.bearer, map[string]any{
		"questionId": snap.Pending.ID,
		"answer":     "paris",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, httperrors.ErrCodeConflict, decode[httperrors.ErrorResponse](t, resp).Error)

	resp = s.do(t, http.MethodPost, "/v1/sessions/"+snap.Token+"/next", s.bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	next := decode[nextResponse](t, resp)
	require.NotNil(t, next.Question)
	assert.Equal(t, res.Next.ID, next.Question.ID)

	resp = s.do(t, http.MethodPost, "/v1/sessions/"+snap.Token+"/answers", s.bearer, map[string]any{
		"questionId": next.Question.ID,
		"answer":     "Lyon",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[session.AnswerResult](t, resp)
	assert.False(t, res.Correct)
	assert.True(t, res.Done)
	assert.Nil(t, res.Next)

	resp = s.do(t, http.MethodPost, "/v1/sessions/"+snap.Token+"/finish", s.bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[session.Summary](t, resp)
	assert.Equal(t, 2, summary.Asked)
	assert.Equal(t, 1, summary.Correct)
	assert.InDelta(t, 0.5, summary.Accuracy, 1e-9)

	resp = s.do(t, http.MethodGet, "/v1/sessions/"+snap.Token, s.bearer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	final := decode[session.Snapshot](t, resp)
	assert.Equal(t, quiz.StatusCompleted, final.Status)
	assert.Nil(t, final.Pending)
}

func TestPreferencesOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.do(t, http.MethodPost, "/v1/sessions", s.bearer, map[string]any{"content": "Paris is the capital of France."})
	snap := decode[session.Snapshot](t, resp)

	resp = s.do(t, http.MethodPatch, "/v1/sessions/"+snap.Token+"/preferences", s.bearer, map[string]any{"difficultyCap": "easy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[session.Snapshot](t, resp)
	require.NotNil(t, updated.Preferences.DifficultyCap)
	assert.Equal(t, quiz.DifficultyEasy, *updated.Preferences.DifficultyCap)
	assert.Equal(t, quiz.DifficultyMedium, updated.Stats.CurrentDifficulty)

	resp = s.do(t, http.MethodPatch, "/v1/sessions/"+snap.Token+"/preferences", s.bearer, map[string]any{"difficultyCap": "legendary"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodPost, "/v1/sessions", s.bearer, map[string]any{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, httperrors.ErrCodeValidationFailed, decode[httperrors.ErrorResponse](t, resp).Error)

	resp = s.do(t, http.MethodPost, "/v1/sessions", s.bearer, map[string]any{"content": "x", "maxQuestions": 51})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/v1/sessions", s.bearer, map[string]any{"content": "x", "maxQuestions": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/v1/sessions/unknown", s.bearer, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/v1/sessions", "", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/v1/sessions", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.bearer)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
	assert.Equal(t, httperrors.ErrCodeInvalidRequest, decode[httperrors.ErrorResponse](t, raw).Error)
}

func TestOtherOwnerSeesNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.do(t, http.MethodPost, "/v1/sessions", s.bearer, map[string]any{"content": "Paris is the capital of France."})
	snap := decode[session.Snapshot](t, resp)

	intruder, err := s.tokens.GenerateAccessToken(uuid.New())
	require.NoError(t, err)
	resp = s.do(t, http.MethodGet, "/v1/sessions/"+snap.Token, intruder, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	resp := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newTestServer(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	resp = down.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "degraded", body["status"])
}

func dialEvents(t *testing.T, s *testServer, bearer string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws/sessions?access_token=" + bearer
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketReceivesSessionEvents(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.do(t, http.MethodPost, "/v1/sessions", s.bearer, map[string]any{"content": "Paris is the capital of France.", "maxQuestions": 3})
	snap := decode[session.Snapshot](t, resp)

	conn := dialEvents(t, s, s.bearer)
	sub, err := ws.NewMessage(ws.TypeSubscribe, ws.SubscribePayload{SessionToken: snap.Token})
	require.NoError(t, err)
	sub.RequestID = "r1"
	require.NoError(t, conn.WriteJSON(sub))

	ack := readMessage(t, conn)
	require.Equal(t, ws.TypeSubscribed, ack.Type)
	assert.Equal(t, "r1", ack.RequestID)

	resp = s.do(t, http.MethodPost, "/v1/sessions/"+snap.Token+"/answers", s.bearer, map[string]any{
		"questionId": snap.Pending.ID,
		"answer":     "Paris",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	evt := readMessage(t, conn)
	assert.Equal(t, events.TypeAnswerEvaluated, evt.Type)
}

func TestWebSocketRejectsForeignSession(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.do(t, http.MethodPost, "/v1/sessions", s.bearer, map[string]any{"content": "Paris is the capital of France."})
	snap := decode[session.Snapshot](t, resp)

	intruder, err := s.tokens.GenerateAccessToken(uuid.New())
	require.NoError(t, err)
	conn := dialEvents(t, s, intruder)

	sub, err := ws.NewMessage(ws.TypeSubscribe, ws.SubscribePayload{SessionToken: snap.Token})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(sub))

	msg := readMessage(t, conn)
	require.Equal(t, ws.TypeError, msg.Type)
	var payload ws.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, httperrors.ErrCodeNotFound, payload.Code)

	require.NoError(t, conn.WriteJSON(ws.Message{Type: "dance"}))
	msg = readMessage(t, conn)
	require.Equal(t, ws.TypeError, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, httperrors.ErrCodeUnknownMessageType, payload.Code)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})
	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws/sessions", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://api.example.com")
	assert.True(t, check(req), "same host")

	req.Header.Set("Origin", "http://evil.example.com")
	assert.False(t, check(req))
}

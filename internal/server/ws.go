package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/quizforge/internal/auth"
	httperrors "github.com/gokatarajesh/quizforge/pkg/http/errors"
	"github.com/gokatarajesh/quizforge/pkg/http/ws"
)

const subscribeTimeout = 5 * time.Second

// eventsHandler upgrades /ws/sessions and lets an owner follow the events of
// their sessions.
type eventsHandler struct {
	engine   Engine
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func newEventsHandler(engine Engine, hub *ws.Hub, allowedOrigins []string, logger zerolog.Logger) *eventsHandler {
	return &eventsHandler{
		engine: engine,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With().Str("component", "ws_events").Logger(),
	}
}

func (h *eventsHandler) serve(w http.ResponseWriter, r *http.Request) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	wsConn := ws.NewConnection(conn, h.logger)
	h.hub.Register(wsConn)
	go wsConn.WritePump()

	wsConn.ReadPump(func(msg ws.Message) error {
		return h.handleMessage(owner, wsConn, msg)
	})
	h.hub.Unregister(wsConn.ID)
}

func (h *eventsHandler) handleMessage(owner uuid.UUID, conn *ws.Connection, msg ws.Message) error {
	switch msg.Type {
	case ws.TypeSubscribe:
		var req ws.SubscribePayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil || req.SessionToken == "" {
			return h.sendError(conn, msg.RequestID, httperrors.ErrCodeInvalidPayload, "Invalid subscribe payload")
		}
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		defer cancel()
		if _, err := h.engine.GetSnapshot(ctx, req.SessionToken, owner); err != nil {
			_, code := httperrors.Classify(err)
			return h.sendError(conn, msg.RequestID, code, "Session not available")
		}
		h.hub.Subscribe(req.SessionToken, conn.ID)
		return h.reply(conn, msg.RequestID, ws.TypeSubscribed, ws.SubscribedPayload{SessionToken: req.SessionToken})

	case ws.TypeUnsubscribe:
		var req ws.SubscribePayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return h.sendError(conn, msg.RequestID, httperrors.ErrCodeInvalidPayload, "Invalid unsubscribe payload")
		}
		h.hub.Unsubscribe(req.SessionToken, conn.ID)
		return nil

	case ws.TypePing:
		return conn.Send(ws.Message{Type: ws.TypePong, RequestID: msg.RequestID})

	default:
		return h.sendError(conn, msg.RequestID, httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}
}

func (h *eventsHandler) reply(conn *ws.Connection, requestID, msgType string, payload any) error {
	out, err := ws.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	out.RequestID = requestID
	return conn.Send(out)
}

func (h *eventsHandler) sendError(conn *ws.Connection, requestID, code, message string) error {
	return h.reply(conn, requestID, ws.TypeError, ws.ErrorPayload{Code: code, Message: message})
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and browser requests from an allowed origin.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

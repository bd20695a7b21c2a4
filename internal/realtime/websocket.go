package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/prosim/internal/api"
	"github.com/ashureev/prosim/internal/domain"
	"github.com/ashureev/prosim/internal/engine"
	"github.com/ashureev/prosim/internal/identity"
)

// Frame types.
const (
	TypeRespond = "respond"
	TypeEnd     = "end"
	TypeStatus  = "status"
	TypePing    = "ping"

	TypeReply  = "reply"
	TypeEnded  = "ended"
	TypeError  = "error"
	TypePong   = "pong"
	TypeOpened = "opened"
)

const writeTimeout = 10 * time.Second

// clientFrame is a message from the browser.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// serverFrame is a message to the browser.
type serverFrame struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

// Limiter throttles respond and end frames per user.
type Limiter interface {
	Allow(key string) bool
}

// WebSocketHandler runs a simulation session over one WebSocket.
type WebSocketHandler struct {
	engine         *engine.Engine
	sm             *SessionManager
	originPatterns []string
	limiter        Limiter
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler. originPatterns follow
// websocket.AcceptOptions; "*" accepts any origin.
func NewWebSocketHandler(e *engine.Engine, sm *SessionManager, originPatterns []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{engine: e, sm: sm, originPatterns: originPatterns, logger: logger}
}

// WithLimiter applies l to respond and end frames.
func (h *WebSocketHandler) WithLimiter(l Limiter) *WebSocketHandler {
	h.limiter = l
	return h
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "id")
	h.logger.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	s, err := h.engine.Status(r.Context(), sessionID)
	if err == nil && s.UserID != userID {
		err = domain.ErrSessionNotFound
	}
	if err != nil {
		api.Error(w, api.StatusFor(err), api.PublicMessage(err))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.writeJSON(ctx, ws, serverFrame{Type: TypeOpened, Data: s}); err != nil {
		h.logger.Debug("Failed to send opening frame", "error", err)
		return
	}

	h.inputLoop(ctx, ws, userID, sessionID)
	h.logger.Info("Simulation connection ended", "user_id", userID, "session_id", sessionID)
}

// inputLoop handles client frames until the connection closes or the
// session ends. Frames are processed in arrival order.
func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg clientFrame
		if err := json.Unmarshal(message, &msg); err != nil {
			h.send(ctx, ws, serverFrame{Type: TypeError, Error: "malformed frame", Code: http.StatusBadRequest})
			continue
		}

		if (msg.Type == TypeRespond || msg.Type == TypeEnd) && h.limiter != nil && !h.limiter.Allow(userID) {
			h.send(ctx, ws, serverFrame{Type: TypeError, Error: "rate limit exceeded", Code: http.StatusTooManyRequests})
			continue
		}

		switch msg.Type {
		case TypeRespond:
			res, err := h.engine.Respond(ctx, sessionID, msg.Content)
			if err != nil {
				h.sendError(ctx, ws, err)
				continue
			}
			h.send(ctx, ws, serverFrame{Type: TypeReply, Data: res})
		case TypeStatus:
			s, err := h.engine.Status(ctx, sessionID)
			if err != nil {
				h.sendError(ctx, ws, err)
				continue
			}
			h.send(ctx, ws, serverFrame{Type: TypeStatus, Data: s})
		case TypeEnd:
			res, err := h.engine.End(ctx, sessionID)
			if err != nil {
				h.sendError(ctx, ws, err)
				continue
			}
			h.send(ctx, ws, serverFrame{Type: TypeEnded, Data: res})
			h.sm.CloseSession(sessionID, "simulation ended")
			return
		case TypePing:
			h.send(ctx, ws, serverFrame{Type: TypePong})
		default:
			h.send(ctx, ws, serverFrame{Type: TypeError, Error: "unknown frame type", Code: http.StatusBadRequest})
		}
	}
}

func (h *WebSocketHandler) sendError(ctx context.Context, ws *websocket.Conn, err error) {
	status := api.StatusFor(err)
	h.logger.Info("Simulation frame rejected", "status", status, "error", err)
	h.send(ctx, ws, serverFrame{Type: TypeError, Error: api.PublicMessage(err), Code: status})
}

func (h *WebSocketHandler) send(ctx context.Context, ws *websocket.Conn, f serverFrame) {
	if err := h.writeJSON(ctx, ws, f); err != nil {
		h.logger.Debug("Failed to send frame", "type", f.Type, "error", err)
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

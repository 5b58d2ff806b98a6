package stream

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"

	"github.com/coinchat/backend/internal/model/chat"
	"github.com/coinchat/backend/internal/model/ui"
	"github.com/coinchat/backend/internal/service/orchestrator"
	streamService "github.com/coinchat/backend/internal/service/stream"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// SessionLookup resolves a session before the connection is upgraded.
type SessionLookup interface {
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
}

// WebSocketHandler runs turns over a WebSocket connection. Each inbound
// message starts a turn; its updates are written back as frames.
type WebSocketHandler struct {
	turns    TurnRunner
	sessions SessionLookup
	upgrader websocket.Upgrader
	logger   logr.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(turns TurnRunner, sessions SessionLookup, logger logr.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		turns:    turns,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.WithName("websocket"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(msg outgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.GetSession(r.Context(), sessionID); err != nil {
		respondTurnError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	logger := h.logger.WithValues("session", sessionID)
	logger.V(1).Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	var turns sync.WaitGroup
	defer func() {
		cancel()
		turns.Wait()
	}()

	out := &wsConn{conn: conn}

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go h.pingLoop(ctx, out)

	h.send(out, logger, outgoingMessage{Type: "connected", SessionID: sessionID})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("read failed", "error", err.Error())
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.Type != "message" {
			h.sendError(out, logger, sessionID, ui.ErrorSchema, "unsupported message type "+msg.Type)
			continue
		}
		if strings.TrimSpace(msg.Text) == "" {
			h.sendError(out, logger, sessionID, ui.ErrorSchema, orchestrator.Describe(ui.ErrorSchema))
			continue
		}

		updates, err := h.turns.HandleTurn(ctx, sessionID, msg.Text)
		if err != nil {
			kind := orchestrator.Classify(err)
			h.sendError(out, logger, sessionID, kind, orchestrator.Describe(kind))
			continue
		}

		turns.Add(1)
		go func() {
			defer turns.Done()
			h.forward(out, logger, sessionID, updates)
		}()
	}
}

// forward drains the turn's updates even after a write failure so the turn
// never blocks on a full channel.
func (h *WebSocketHandler) forward(out *wsConn, logger logr.Logger, sessionID string, updates <-chan streamService.Update) {
	healthy := true
	for update := range updates {
		if !healthy {
			continue
		}
		err := out.writeJSON(outgoingMessage{
			Type:      EventName(update),
			SessionID: sessionID,
			Data:      update,
			Timestamp: time.Now().Unix(),
		})
		if err != nil {
			logger.Info("write update failed", "error", err.Error())
			healthy = false
		}
	}
}

func (h *WebSocketHandler) send(out *wsConn, logger logr.Logger, msg outgoingMessage) {
	msg.Timestamp = time.Now().Unix()
	if err := out.writeJSON(msg); err != nil {
		logger.Info("write failed", "type", msg.Type, "error", err.Error())
	}
}

func (h *WebSocketHandler) sendError(out *wsConn, logger logr.Logger, sessionID string, kind ui.ErrorKind, message string) {
	h.send(out, logger, outgoingMessage{
		Type:      "error",
		SessionID: sessionID,
		Data:      ui.Failure{Kind: kind, Message: message},
	})
}

// pingLoop 定期发送ping消息
func (h *WebSocketHandler) pingLoop(ctx context.Context, out *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := out.ping(); err != nil {
				return
			}
		}
	}
}

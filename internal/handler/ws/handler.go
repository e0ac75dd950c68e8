package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatService "github.com/zhouzirui/cardfinder/backend/internal/service/chat"
	"github.com/zhouzirui/cardfinder/backend/internal/service/conversation"
	"github.com/zhouzirui/cardfinder/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second

	// maxQueuedTurns 是单个连接上排队等待处理的消息上限。
	maxQueuedTurns = 8
)

// Handler WebSocket对话处理器
type Handler struct {
	conversation *conversation.Service
	chatSvc      *chatService.Service
	logger       *slog.Logger
	upgrader     websocket.Upgrader

	pongWait   time.Duration
	pingPeriod time.Duration
}

// New 创建WebSocket处理器，conversation 为 nil 时返回 503。
func New(conv *conversation.Service, chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		conversation: conv,
		chatSvc:      chatSvc,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connWriter 串行化对同一连接的写操作。
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *connWriter) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *connWriter) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if h.conversation == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "assistant unavailable")
		return
	}
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket: upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.logger.Info("websocket: new connection", slog.String("session", sessionID))

	ctx, cancel := context.WithCancel(r.Context())

	conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.pongWait))
		return nil
	})

	writer := &connWriter{conn: conn}
	go h.pingLoop(ctx, writer)

	// 对话轮次在独立的 goroutine 中按到达顺序执行，读循环持续处理 pong 与关闭帧。
	turns := make(chan inboundMessage, maxQueuedTurns)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for msg := range turns {
			h.handleMessage(ctx, writer, sessionID, &msg)
		}
	}()
	defer func() {
		close(turns)
		cancel()
		wg.Wait()
	}()

	h.send(writer, "connected", sessionID, map[string]any{"sessionId": sessionID})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket: read error", slog.String("error", err.Error()))
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(h.pongWait))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			h.sendError(writer, sessionID, "session mismatch")
			continue
		}

		select {
		case turns <- msg:
		default:
			h.sendError(writer, sessionID, "too many pending messages")
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, writer *connWriter, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil || strings.TrimSpace(text.Text) == "" {
			h.sendError(writer, sessionID, "invalid text message")
			return
		}

		sink := func(e conversation.Event) {
			h.send(writer, string(e.Type), sessionID, e)
		}
		if _, err := h.conversation.Reply(ctx, sessionID, strings.TrimSpace(text.Text), sink); err != nil {
			h.logger.Error("websocket: reply failed", slog.String("session", sessionID), slog.String("error", err.Error()))
			h.sendError(writer, sessionID, "assistant reply failed")
		}
	default:
		h.sendError(writer, sessionID, "unsupported message type")
	}
}

func (h *Handler) send(writer *connWriter, typ, sessionID string, data interface{}) {
	msg := outgoingMessage{
		Type:      typ,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := writer.writeJSON(msg); err != nil {
		h.logger.Warn("websocket: write failed", slog.String("error", err.Error()))
	}
}

func (h *Handler) sendError(writer *connWriter, sessionID, message string) {
	h.send(writer, string(conversation.EventError), sessionID, map[string]string{"message": message})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, writer *connWriter) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.ping(); err != nil {
				return
			}
		}
	}
}

package stream

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/cardfinder/backend/internal/service/conversation"
	chatService "github.com/zhouzirui/cardfinder/backend/internal/service/chat"
	"github.com/zhouzirui/cardfinder/backend/pkg/utils"
)

// Handler manages streaming assistant responses via Server-Sent Events
type Handler struct {
	conversation *conversation.Service
	chatSvc      *chatService.Service
	logger       *slog.Logger
}

// New creates a new stream handler. A nil conversation service makes the endpoint return 503.
func New(conv *conversation.Service, chatSvc *chatService.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{conversation: conv, chatSvc: chatSvc, logger: logger}
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := strings.TrimSpace(r.URL.Query().Get("message"))

	if h.conversation == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
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

	writer, ok := utils.NewSSEWriter(w)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sink := func(e conversation.Event) { writer.Send(e) }
	if _, err := h.conversation.Reply(r.Context(), sessionID, userMessage, sink); err != nil {
		h.logger.Error("stream: reply failed", slog.String("session", sessionID), slog.String("error", err.Error()))
		writer.Send(conversation.Event{
			Type:      conversation.EventError,
			SessionID: sessionID,
			Error:     "assistant reply failed",
		})
		return
	}

	h.logger.Info("stream: completed", slog.String("session", sessionID))
}

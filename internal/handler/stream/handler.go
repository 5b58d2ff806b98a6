package stream

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	chatService "github.com/coinchat/backend/internal/service/chat"
	"github.com/coinchat/backend/internal/service/orchestrator"
	streamService "github.com/coinchat/backend/internal/service/stream"
	"github.com/coinchat/backend/pkg/utils"
)

// TurnRunner starts a conversational turn and returns its update stream.
type TurnRunner interface {
	HandleTurn(ctx context.Context, sessionID, userText string) (<-chan streamService.Update, error)
}

// Handler manages streaming turn output via Server-Sent Events
type Handler struct {
	turns  TurnRunner
	logger logr.Logger
}

// New creates a new stream handler
func New(turns TurnRunner, logger logr.Logger) *Handler {
	return &Handler{
		turns:  turns,
		logger: logger.WithName("sse"),
	}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	userMessage := r.URL.Query().Get("message")
	if strings.TrimSpace(userMessage) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, err := h.turns.HandleTurn(r.Context(), sessionID, userMessage)
	if err != nil {
		respondTurnError(w, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	logger := h.logger.WithValues("session", sessionID)
	logger.V(1).Info("stream opened")

	for update := range updates {
		if err := utils.SendSSEEvent(w, flusher, EventName(update), update); err != nil {
			// the request context is cancelled once we return, which stops the turn
			logger.Info("client went away", "error", err.Error())
			return
		}
	}
	logger.V(1).Info("stream completed")
}

// EventName is the SSE event (and WebSocket frame type) for an update.
func EventName(update streamService.Update) string {
	if update.State == streamService.Pending {
		return "pending"
	}
	if update.Fragment != nil && update.Fragment.IsError() {
		return "error"
	}
	return "done"
}

// respondTurnError maps errors returned before a turn starts to HTTP statuses.
func respondTurnError(w http.ResponseWriter, err error) {
	kind := orchestrator.Classify(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chatService.ErrSessionBusy):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrEmptyMessage), errors.Is(err, chatService.ErrInvalidMessage):
		status = http.StatusBadRequest
	}
	utils.RespondErrorKind(w, status, string(kind), orchestrator.Describe(kind))
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/coinchat/backend/internal/handler/chat"
	"github.com/coinchat/backend/internal/handler/stream"
	"github.com/coinchat/backend/internal/handler/tools"
	middlewarePkg "github.com/coinchat/backend/internal/middleware"
	chatService "github.com/coinchat/backend/internal/service/chat"
	"github.com/coinchat/backend/internal/service/orchestrator"
	toolService "github.com/coinchat/backend/internal/service/tools"
	"github.com/coinchat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. turns may be nil when no
// language model is configured; the turn endpoints then answer 503.
func NewRouter(chatSvc *chatService.Service, registry *toolService.Registry, turns *orchestrator.Orchestrator, logger logr.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ai":     turns != nil,
		})
	})

	r.Route("/api", func(api chi.Router) {
		chat.New(chatSvc).RegisterRoutes(api)
		tools.New(registry).RegisterRoutes(api)

		if turns == nil {
			unavailable := func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
			}
			api.Get("/stream/{sessionID}", unavailable)
			api.Get("/ws/{sessionID}", unavailable)
			return
		}

		stream.New(turns, logger).RegisterRoutes(api)
		stream.NewWebSocketHandler(turns, chatSvc, logger).RegisterRoutes(api)
	})

	return r
}

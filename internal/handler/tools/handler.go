package tools

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	toolService "github.com/coinchat/backend/internal/service/tools"
	"github.com/coinchat/backend/pkg/utils"
)

// Descriptor is the public view of one tool.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Handler 工具列表的HTTP处理器
type Handler struct {
	registry *toolService.Registry
}

// New 创建工具处理器
func New(registry *toolService.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes 注册工具相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tools", h.handleListTools)
}

// handleListTools 列出所有工具
func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	descriptors := h.registry.Descriptors()
	out := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, Descriptor{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.JSONSchema(),
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

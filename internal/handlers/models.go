package handlers

import (
	"net/http"

	"github.com/omnidotdev/synapse/internal/provider"
)

// ModelsHandler serves GET /v1/models from the discovery catalog.
type ModelsHandler struct {
	catalog *provider.Catalog
}

// NewModelsHandler wraps the catalog.
func NewModelsHandler(catalog *provider.Catalog) *ModelsHandler {
	return &ModelsHandler{catalog: catalog}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	models := h.catalog.Models(r.Context())
	if models == nil {
		models = []provider.Model{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   models,
	})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/catalog"
	"github.com/billforge/billforge/pkg/model"
)

// EntityHandler serves every catalog kind under
// /organisations/:id/entities/:kind.
type EntityHandler struct {
	catalog *catalog.Service
	logger  *zap.Logger
}

func NewEntityHandler(catalog *catalog.Service, logger *zap.Logger) *EntityHandler {
	return &EntityHandler{catalog: catalog, logger: logger}
}

func (h *EntityHandler) definition(c *gin.Context) (model.Definition, bool) {
	def, err := catalog.Definition(model.Kind(c.Param("kind")))
	if err != nil {
		writeError(c, err)
		return model.Definition{}, false
	}
	return def, true
}

// decode binds the request body into a fresh record of the path kind.
func (h *EntityHandler) decode(c *gin.Context, def model.Definition) (model.Scoped, bool) {
	// Catalog kinds are always scoped.
	rec := def.New().(model.Scoped)
	if err := c.ShouldBindJSON(rec); err != nil {
		badRequest(c, "invalid request", err)
		return nil, false
	}
	return rec, true
}

func (h *EntityHandler) Create(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	rec, ok := h.decode(c, def)
	if !ok {
		return
	}
	created, err := h.catalog.Create(c.Request.Context(), scope, rec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *EntityHandler) List(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	filter := listFilter(c, scope)
	recs, total, err := h.catalog.List(c.Request.Context(), def.Kind, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Items: recs, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *EntityHandler) Get(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "entity_id")
	if !ok {
		return
	}
	rec, err := h.catalog.Get(c.Request.Context(), def.Kind, scope, id, parseBool(c.Query("include_deleted")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *EntityHandler) Update(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "entity_id")
	if !ok {
		return
	}
	rec, ok := h.decode(c, def)
	if !ok {
		return
	}
	updated, err := h.catalog.Update(c.Request.Context(), scope, id, rec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *EntityHandler) Delete(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "entity_id")
	if !ok {
		return
	}
	mode, ok := deleteMode(c)
	if !ok {
		return
	}
	report, err := h.catalog.Delete(c.Request.Context(), def.Kind, scope, id, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *EntityHandler) Restore(c *gin.Context) {
	def, ok := h.definition(c)
	if !ok {
		return
	}
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "entity_id")
	if !ok {
		return
	}
	rec, err := h.catalog.Restore(c.Request.Context(), def.Kind, scope, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

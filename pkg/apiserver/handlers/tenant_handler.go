package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/auth"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/tenancy"
)

type TenantHandler struct {
	tenancy *tenancy.Service
	tokens  *auth.TokenManager
	logger  *zap.Logger
}

func NewTenantHandler(tenancy *tenancy.Service, tokens *auth.TokenManager, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{tenancy: tenancy, tokens: tokens, logger: logger}
}

type tenantCreateRequest struct {
	Name     string         `json:"name" binding:"required"`
	Email    string         `json:"email" binding:"required"`
	Mobile   string         `json:"mobile" binding:"required"`
	PlanType model.PlanType `json:"plan_type"`
}

type tenantCreateResponse struct {
	Tenant *model.Tenant `json:"tenant"`
	Token  string        `json:"token"`
}

// Create signs a new tenant up and returns a tenant wide token for it.
func (h *TenantHandler) Create(c *gin.Context) {
	var req tenantCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}

	tenant, err := h.tenancy.CreateTenant(c.Request.Context(), &model.Tenant{
		Name:     req.Name,
		Email:    req.Email,
		Mobile:   req.Mobile,
		PlanType: req.PlanType,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	token, err := h.tokens.Issue(auth.Subject{ID: tenant.Email, TenantID: tenant.ID, Permissions: []string{"*"}})
	if err != nil {
		h.logger.Error("failed to issue tenant token", zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusCreated, tenantCreateResponse{Tenant: tenant, Token: token})
}

func (h *TenantHandler) Get(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	tenant, err := h.tenancy.GetTenant(c.Request.Context(), sub.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

func (h *TenantHandler) Usage(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	usage, err := h.tenancy.Usage(c.Request.Context(), sub.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": sub.TenantID, "usage": usage})
}

func (h *TenantHandler) Delete(c *gin.Context) {
	sub, ok := tenantWide(c)
	if !ok {
		return
	}
	mode, ok := deleteMode(c)
	if !ok {
		return
	}
	report, err := h.tenancy.DeleteTenant(c.Request.Context(), sub.TenantID, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// tenantWide rejects tokens bound to a single organisation.
func tenantWide(c *gin.Context) (auth.Subject, bool) {
	sub, ok := subject(c)
	if !ok {
		return sub, false
	}
	if sub.OrganisationID != nil {
		forbidden(c, "requires a tenant wide token")
		return sub, false
	}
	return sub, true
}


package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
	"github.com/billforge/billforge/pkg/tenancy"
)

// OrganisationHandler serves organisations and their branches.
type OrganisationHandler struct {
	tenancy *tenancy.Service
	logger  *zap.Logger
}

func NewOrganisationHandler(tenancy *tenancy.Service, logger *zap.Logger) *OrganisationHandler {
	return &OrganisationHandler{tenancy: tenancy, logger: logger}
}

type organisationRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type branchRequest struct {
	Name         string `json:"name" binding:"required"`
	BranchCode   string `json:"branch_code" binding:"required"`
	Address      string `json:"address"`
	Phone        string `json:"phone"`
	IsHeadOffice bool   `json:"is_head_office"`
}

func (h *OrganisationHandler) Create(c *gin.Context) {
	sub, ok := tenantWide(c)
	if !ok {
		return
	}
	var req organisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}
	org, err := h.tenancy.CreateOrganisation(c.Request.Context(), sub.TenantID, &model.Organisation{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

func (h *OrganisationHandler) List(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	filter := store.Filter{
		TenantID:       sub.TenantID,
		OrganisationID: sub.OrganisationID,
		IncludeDeleted: parseBool(c.Query("include_deleted")),
		Limit:          parseLimit(c.Query("limit"), 50),
		Offset:         parseOffset(c.Query("offset")),
	}
	orgs, total, err := h.tenancy.ListOrganisations(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Items: orgs, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *OrganisationHandler) Get(c *gin.Context) {
	sub, orgID, ok := organisationScope(c)
	if !ok {
		return
	}
	org, err := h.tenancy.GetOrganisation(c.Request.Context(), sub.TenantID, orgID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

func (h *OrganisationHandler) Delete(c *gin.Context) {
	sub, orgID, ok := organisationScope(c)
	if !ok {
		return
	}
	mode, ok := deleteMode(c)
	if !ok {
		return
	}
	report, err := h.tenancy.DeleteOrganisation(c.Request.Context(), sub.TenantID, orgID, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *OrganisationHandler) Restore(c *gin.Context) {
	sub, orgID, ok := organisationScope(c)
	if !ok {
		return
	}
	org, err := h.tenancy.RestoreOrganisation(c.Request.Context(), sub.TenantID, orgID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

func (h *OrganisationHandler) CreateBranch(c *gin.Context) {
	sub, orgID, ok := organisationScope(c)
	if !ok {
		return
	}
	if sub.BranchID != nil {
		forbidden(c, "requires an organisation wide token")
		return
	}
	var req branchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}

	ctx := c.Request.Context()
	// Hides organisations of other tenants.
	if _, err := h.tenancy.GetOrganisation(ctx, sub.TenantID, orgID); err != nil {
		writeError(c, err)
		return
	}
	branch, err := h.tenancy.CreateBranch(ctx, orgID, &model.Branch{
		Name:         req.Name,
		BranchCode:   req.BranchCode,
		Address:      req.Address,
		Phone:        req.Phone,
		IsHeadOffice: req.IsHeadOffice,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

func (h *OrganisationHandler) ListBranches(c *gin.Context) {
	sub, orgID, ok := organisationScope(c)
	if !ok {
		return
	}
	filter := store.Filter{
		TenantID:       sub.TenantID,
		OrganisationID: &orgID,
		BranchID:       sub.BranchID,
		IncludeDeleted: parseBool(c.Query("include_deleted")),
		Limit:          parseLimit(c.Query("limit"), 50),
		Offset:         parseOffset(c.Query("offset")),
	}
	branches, total, err := h.tenancy.ListBranches(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Items: branches, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *OrganisationHandler) GetBranch(c *gin.Context) {
	branch, ok := h.branchInScope(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, branch)
}

func (h *OrganisationHandler) DeleteBranch(c *gin.Context) {
	branch, ok := h.branchInScope(c)
	if !ok {
		return
	}
	mode, ok := deleteMode(c)
	if !ok {
		return
	}
	report, err := h.tenancy.DeleteBranch(c.Request.Context(), branch.TenantID, branch.ID, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *OrganisationHandler) RestoreBranch(c *gin.Context) {
	current, ok := h.branchInScope(c)
	if !ok {
		return
	}
	branch, err := h.tenancy.RestoreBranch(c.Request.Context(), current.TenantID, current.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, branch)
}

// branchInScope loads /organisations/:id/branches/:branch_id and checks it
// against the path organisation and the caller's token.
func (h *OrganisationHandler) branchInScope(c *gin.Context) (*model.Branch, bool) {
	sub, orgID, ok := organisationScope(c)
	if !ok {
		return nil, false
	}
	branchID, ok := pathID(c, "branch_id")
	if !ok {
		return nil, false
	}
	if sub.BranchID != nil && *sub.BranchID != branchID {
		forbidden(c, "branch outside token scope")
		return nil, false
	}
	branch, err := h.tenancy.GetBranch(c.Request.Context(), sub.TenantID, branchID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if branch.OrganisationID != orgID {
		writeError(c, apperr.ErrNotFound)
		return nil, false
	}
	return branch, true
}

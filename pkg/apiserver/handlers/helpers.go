package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/billforge/billforge/pkg/apiserver/middleware"
	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/auth"
	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
)

type listResponse struct {
	Items  interface{} `json:"items"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	if parsed > 500 {
		return 500
	}
	return parsed
}

func parseOffset(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func parseBool(value string) bool {
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var (
		validation  *apperr.ValidationError
		quota       *apperr.QuotaExceededError
		uniqueness  *apperr.UniquenessConflictError
		referential *apperr.ReferentialConflictError
	)
	switch {
	case errors.As(err, &validation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation failed", "field": validation.Field, "details": validation.Reason})
	case errors.Is(err, apperr.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &quota):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "quota exceeded", "resource": quota.Resource, "current": quota.Current, "limit": quota.Limit})
	case errors.As(err, &uniqueness):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "uniqueness conflict", "field": uniqueness.Field})
	case errors.As(err, &referential):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "referential conflict", "parent": referential.Parent, "child": referential.Child, "count": referential.Count})
	case apperr.Retryable(err):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable", "retryable": true})
	case errors.Is(err, apperr.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid state transition"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}

func forbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": message})
}

func subject(c *gin.Context) (auth.Subject, bool) {
	sub, ok := middleware.SubjectFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
	}
	return sub, ok
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// organisationScope resolves the organisation in the path against the
// caller's token.
func organisationScope(c *gin.Context) (auth.Subject, uuid.UUID, bool) {
	sub, ok := subject(c)
	if !ok {
		return sub, uuid.Nil, false
	}
	orgID, ok := pathID(c, "id")
	if !ok {
		return sub, uuid.Nil, false
	}
	if sub.OrganisationID != nil && *sub.OrganisationID != orgID {
		forbidden(c, "organisation outside token scope")
		return sub, uuid.Nil, false
	}
	return sub, orgID, true
}

// requestScope builds the full scope of a request under /organisations/:id.
// The branch comes from the token when it is branch bound, otherwise from
// the optional branch_id query parameter.
func requestScope(c *gin.Context) (model.Scope, bool) {
	sub, orgID, ok := organisationScope(c)
	if !ok {
		return model.Scope{}, false
	}
	scope := model.Scope{TenantID: sub.TenantID, OrganisationID: orgID}

	if raw := strings.TrimSpace(c.Query("branch_id")); raw != "" {
		branchID, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid branch_id", nil)
			return model.Scope{}, false
		}
		if sub.BranchID != nil && *sub.BranchID != branchID {
			forbidden(c, "branch outside token scope")
			return model.Scope{}, false
		}
		scope.BranchID = &branchID
	} else if sub.BranchID != nil {
		branchID := *sub.BranchID
		scope.BranchID = &branchID
	}
	return scope, true
}

func listFilter(c *gin.Context, scope model.Scope) store.Filter {
	orgID := scope.OrganisationID
	return store.Filter{
		TenantID:       scope.TenantID,
		OrganisationID: &orgID,
		BranchID:       scope.BranchID,
		IncludeDeleted: parseBool(c.Query("include_deleted")),
		Limit:          parseLimit(c.Query("limit"), 50),
		Offset:         parseOffset(c.Query("offset")),
	}
}

func deleteMode(c *gin.Context) (integrity.Mode, bool) {
	mode, err := integrity.ParseMode(c.Query("mode"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return mode, true
}

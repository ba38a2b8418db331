package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/invoice"
	"github.com/billforge/billforge/pkg/model"
)

type InvoiceHandler struct {
	invoices *invoice.Service
	logger   *zap.Logger
}

func NewInvoiceHandler(invoices *invoice.Service, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, logger: logger}
}

type invoiceLineRequest struct {
	ProductID   *string         `json:"product_id"`
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

type invoiceIssueRequest struct {
	Prefix       string               `json:"prefix" binding:"required"`
	CustomerName string               `json:"customer_name"`
	Lines        []invoiceLineRequest `json:"lines" binding:"required"`
}

type nextNumberRequest struct {
	Prefix string `json:"prefix" binding:"required"`
}

type seedSequenceRequest struct {
	LastNumber int64 `json:"last_number"`
}

func (h *InvoiceHandler) Issue(c *gin.Context) {
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	var req invoiceIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}

	draft := &model.Invoice{Prefix: req.Prefix, CustomerName: strings.TrimSpace(req.CustomerName)}
	for _, line := range req.Lines {
		item := model.InvoiceLine{
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TaxRate:     line.TaxRate,
		}
		if line.ProductID != nil && *line.ProductID != "" {
			productID, err := uuid.Parse(*line.ProductID)
			if err != nil {
				badRequest(c, "invalid product_id", nil)
				return
			}
			item.ProductID = &productID
		}
		draft.Lines = append(draft.Lines, item)
	}

	issued, err := h.invoices.Issue(c.Request.Context(), scope, draft)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issued)
}

func (h *InvoiceHandler) List(c *gin.Context) {
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	filter := listFilter(c, scope)
	invoices, total, err := h.invoices.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse{Items: invoices, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *InvoiceHandler) Get(c *gin.Context) {
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "entity_id")
	if !ok {
		return
	}
	inv, err := h.invoices.Get(c.Request.Context(), scope, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *InvoiceHandler) Void(c *gin.Context) {
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "entity_id")
	if !ok {
		return
	}
	inv, err := h.invoices.Void(c.Request.Context(), scope, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *InvoiceHandler) Delete(c *gin.Context) {
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
	report, err := h.invoices.Delete(c.Request.Context(), scope, id, mode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// NextNumber reserves the next number of a prefix without issuing an invoice.
func (h *InvoiceHandler) NextNumber(c *gin.Context) {
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	var req nextNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}
	number, err := h.invoices.NextInvoiceNumber(c.Request.Context(), scope, req.Prefix)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, number)
}

func (h *InvoiceHandler) ListSequences(c *gin.Context) {
	sub, ok := subject(c)
	if !ok {
		return
	}
	sequences, err := h.invoices.Sequences(c.Request.Context(), sub.TenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": sequences})
}

func (h *InvoiceHandler) SeedSequence(c *gin.Context) {
	scope, ok := requestScope(c)
	if !ok {
		return
	}
	var req seedSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}
	seq, err := h.invoices.SeedSequence(c.Request.Context(), scope, c.Param("prefix"), req.LastNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

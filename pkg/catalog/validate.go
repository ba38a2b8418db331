package catalog

import (
	"strings"

	"github.com/google/uuid"

	"github.com/billforge/billforge/pkg/apperr"
	"github.com/billforge/billforge/pkg/model"
)

// normalize trims user input and checks the required fields of each kind.
func normalize(rec model.Record) error {
	switch r := rec.(type) {
	case *model.Category:
		r.Name = strings.TrimSpace(r.Name)
		return required("name", r.Name)
	case *model.Unit:
		r.Name = strings.TrimSpace(r.Name)
		r.ShortName = strings.TrimSpace(r.ShortName)
		if err := required("name", r.Name); err != nil {
			return err
		}
		return required("short_name", r.ShortName)
	case *model.Product:
		r.Name = strings.TrimSpace(r.Name)
		r.SKU = strings.ToUpper(strings.TrimSpace(r.SKU))
		if err := required("name", r.Name); err != nil {
			return err
		}
		if err := required("sku", r.SKU); err != nil {
			return err
		}
		if r.Price.IsNegative() {
			return apperr.Validation("price", "must not be negative")
		}
		if r.TaxRate.IsNegative() {
			return apperr.Validation("tax_rate", "must not be negative")
		}
	case *model.Variant:
		r.Name = strings.TrimSpace(r.Name)
		r.SKU = strings.ToUpper(strings.TrimSpace(r.SKU))
		if r.ProductID == uuid.Nil {
			return apperr.Validation("product_id", "is required")
		}
		if err := required("sku", r.SKU); err != nil {
			return err
		}
		if r.Price.IsNegative() {
			return apperr.Validation("price", "must not be negative")
		}
	case *model.StockAudit:
		if r.VariantID == uuid.Nil {
			return apperr.Validation("variant_id", "is required")
		}
		if r.ExpectedQty < 0 || r.CountedQty < 0 {
			return apperr.Validation("counted_qty", "quantities must not be negative")
		}
	case *model.Expense:
		r.Title = strings.TrimSpace(r.Title)
		if err := required("title", r.Title); err != nil {
			return err
		}
		if !r.Amount.IsPositive() {
			return apperr.Validation("amount", "must be positive")
		}
	case *model.Role:
		r.Name = strings.TrimSpace(r.Name)
		return required("name", r.Name)
	case *model.User:
		r.Email = strings.ToLower(strings.TrimSpace(r.Email))
		r.Name = strings.TrimSpace(r.Name)
		if r.Email == "" || !strings.Contains(r.Email, "@") {
			return apperr.Validation("email", "must be a valid address")
		}
		return required("name", r.Name)
	}
	return nil
}

func required(field, value string) error {
	if value == "" {
		return apperr.Validation(field, "is required")
	}
	return nil
}

package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceSequence is the per (tenant, prefix) counter behind invoice numbers.
// It is shared by every organisation of the tenant, so it carries no
// organisation or branch. LastNumber only moves forward.
type InvoiceSequence struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Prefix     string    `json:"prefix" gorm:"type:varchar(32);not null"`
	LastNumber int64     `json:"last_number" gorm:"not null;default:0"`
	Lifecycle
}

func (InvoiceSequence) TableName() string { return "invoice_sequences" }

func (s *InvoiceSequence) Kind() Kind         { return KindInvoiceSequence }
func (s *InvoiceSequence) GetID() uuid.UUID   { return s.ID }
func (s *InvoiceSequence) SetID(id uuid.UUID) { s.ID = id }
func (s *InvoiceSequence) Owner() Scope       { return Scope{TenantID: s.TenantID} }

func (s *InvoiceSequence) Ref(column string) (uuid.UUID, bool) {
	if column == "tenant_id" {
		return s.TenantID, s.TenantID != uuid.Nil
	}
	return uuid.Nil, false
}

func (s *InvoiceSequence) UniqueValues() map[string]string {
	return map[string]string{"prefix": s.Prefix}
}

func (s *InvoiceSequence) Clone() Record {
	out := *s
	return &out
}

type InvoiceStatus string

const (
	InvoiceIssued InvoiceStatus = "ISSUED"
	InvoiceVoid   InvoiceStatus = "VOID"
)

type Invoice struct {
	ID           uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Number       string          `json:"number" gorm:"type:varchar(64);not null"`
	Prefix       string          `json:"prefix" gorm:"type:varchar(32);not null"`
	Sequence     int64           `json:"sequence" gorm:"not null"`
	CustomerName string          `json:"customer_name"`
	Status       InvoiceStatus   `json:"status" gorm:"type:varchar(20);not null;default:'ISSUED';index"`
	Subtotal     decimal.Decimal `json:"subtotal" gorm:"type:numeric(14,2);not null;default:0"`
	TaxTotal     decimal.Decimal `json:"tax_total" gorm:"type:numeric(14,2);not null;default:0"`
	Total        decimal.Decimal `json:"total" gorm:"type:numeric(14,2);not null;default:0"`
	IssuedAt     time.Time       `json:"issued_at"`
	VoidedAt     *time.Time      `json:"voided_at,omitempty"`
	Lines        []InvoiceLine   `json:"lines,omitempty" gorm:"-"`
	Scope
	Lifecycle
}

func (Invoice) TableName() string { return "invoices" }

func (i *Invoice) Kind() Kind                          { return KindInvoice }
func (i *Invoice) GetID() uuid.UUID                    { return i.ID }
func (i *Invoice) SetID(id uuid.UUID)                  { i.ID = id }
func (i *Invoice) Ref(column string) (uuid.UUID, bool) { return i.Scope.ref(column) }

func (i *Invoice) UniqueValues() map[string]string {
	return map[string]string{"number": i.Number}
}

func (i *Invoice) Clone() Record {
	out := *i
	out.Scope = i.Scope.copy()
	if i.VoidedAt != nil {
		at := *i.VoidedAt
		out.VoidedAt = &at
	}
	out.Lines = nil
	for _, line := range i.Lines {
		out.Lines = append(out.Lines, *(line.Clone().(*InvoiceLine)))
	}
	return &out
}

// Recalculate derives line totals and invoice totals from quantities,
// unit prices and tax rates.
func (i *Invoice) Recalculate() {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for idx := range i.Lines {
		line := &i.Lines[idx]
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(line.Quantity)).Round(2)
		subtotal = subtotal.Add(line.LineTotal)
		tax = tax.Add(line.LineTotal.Mul(line.TaxRate).Div(decimal.NewFromInt(100)).Round(2))
	}
	i.Subtotal = subtotal
	i.TaxTotal = tax
	i.Total = subtotal.Add(tax)
}

type InvoiceLine struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	InvoiceID   uuid.UUID       `json:"invoice_id" gorm:"type:uuid;not null;index"`
	ProductID   *uuid.UUID      `json:"product_id,omitempty" gorm:"type:uuid;index"`
	Description string          `json:"description" gorm:"not null"`
	Quantity    int64           `json:"quantity" gorm:"not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(14,2);not null"`
	TaxRate     decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null;default:0"`
	LineTotal   decimal.Decimal `json:"line_total" gorm:"type:numeric(14,2);not null"`
	Scope
	Lifecycle
}

func (InvoiceLine) TableName() string { return "invoice_lines" }

func (l *InvoiceLine) Kind() Kind                      { return KindInvoiceLine }
func (l *InvoiceLine) GetID() uuid.UUID                { return l.ID }
func (l *InvoiceLine) SetID(id uuid.UUID)              { l.ID = id }
func (l *InvoiceLine) UniqueValues() map[string]string { return nil }

func (l *InvoiceLine) Ref(column string) (uuid.UUID, bool) {
	switch column {
	case "invoice_id":
		return l.InvoiceID, l.InvoiceID != uuid.Nil
	case "product_id":
		return optionalRef(l.ProductID)
	}
	return l.Scope.ref(column)
}

func (l *InvoiceLine) Clone() Record {
	out := *l
	out.Scope = l.Scope.copy()
	out.ProductID = copyUUID(l.ProductID)
	return &out
}

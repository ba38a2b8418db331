package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Category struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	Scope
	Lifecycle
}

func (Category) TableName() string { return "categories" }

func (c *Category) Kind() Kind                          { return KindCategory }
func (c *Category) GetID() uuid.UUID                    { return c.ID }
func (c *Category) SetID(id uuid.UUID)                  { c.ID = id }
func (c *Category) Ref(column string) (uuid.UUID, bool) { return c.Scope.ref(column) }

func (c *Category) UniqueValues() map[string]string {
	return map[string]string{"name": c.Name}
}

func (c *Category) Clone() Record {
	out := *c
	out.Scope = c.Scope.copy()
	return &out
}

type Unit struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name      string    `json:"name" gorm:"not null"`
	ShortName string    `json:"short_name" gorm:"not null"`
	Scope
	Lifecycle
}

func (Unit) TableName() string { return "units" }

func (u *Unit) Kind() Kind                          { return KindUnit }
func (u *Unit) GetID() uuid.UUID                    { return u.ID }
func (u *Unit) SetID(id uuid.UUID)                  { u.ID = id }
func (u *Unit) Ref(column string) (uuid.UUID, bool) { return u.Scope.ref(column) }

func (u *Unit) UniqueValues() map[string]string {
	return map[string]string{"short_name": u.ShortName}
}

func (u *Unit) Clone() Record {
	out := *u
	out.Scope = u.Scope.copy()
	return &out
}

type Product struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name       string          `json:"name" gorm:"not null"`
	SKU        string          `json:"sku" gorm:"column:sku;not null"`
	CategoryID *uuid.UUID      `json:"category_id,omitempty" gorm:"type:uuid;index"`
	UnitID     *uuid.UUID      `json:"unit_id,omitempty" gorm:"type:uuid;index"`
	Price      decimal.Decimal `json:"price" gorm:"type:numeric(14,2);not null;default:0"`
	TaxRate    decimal.Decimal `json:"tax_rate" gorm:"type:numeric(5,2);not null;default:0"`
	Scope
	Lifecycle
}

func (Product) TableName() string { return "products" }

func (p *Product) Kind() Kind         { return KindProduct }
func (p *Product) GetID() uuid.UUID   { return p.ID }
func (p *Product) SetID(id uuid.UUID) { p.ID = id }

func (p *Product) Ref(column string) (uuid.UUID, bool) {
	switch column {
	case "category_id":
		return optionalRef(p.CategoryID)
	case "unit_id":
		return optionalRef(p.UnitID)
	}
	return p.Scope.ref(column)
}

func (p *Product) UniqueValues() map[string]string {
	return map[string]string{"sku": p.SKU}
}

func (p *Product) Clone() Record {
	out := *p
	out.Scope = p.Scope.copy()
	out.CategoryID = copyUUID(p.CategoryID)
	out.UnitID = copyUUID(p.UnitID)
	return &out
}

// Variant is a sellable option of a product (size, colour, pack).
type Variant struct {
	ID        uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ProductID uuid.UUID       `json:"product_id" gorm:"type:uuid;not null;index"`
	Name      string          `json:"name" gorm:"not null"`
	SKU       string          `json:"sku" gorm:"column:sku;not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(14,2);not null;default:0"`
	Stock     int64           `json:"stock" gorm:"not null;default:0"`
	Scope
	Lifecycle
}

func (Variant) TableName() string { return "variants" }

func (v *Variant) Kind() Kind         { return KindVariant }
func (v *Variant) GetID() uuid.UUID   { return v.ID }
func (v *Variant) SetID(id uuid.UUID) { v.ID = id }

func (v *Variant) Ref(column string) (uuid.UUID, bool) {
	if column == "product_id" {
		return v.ProductID, v.ProductID != uuid.Nil
	}
	return v.Scope.ref(column)
}

func (v *Variant) UniqueValues() map[string]string {
	return map[string]string{"sku": v.SKU}
}

func (v *Variant) Clone() Record {
	out := *v
	out.Scope = v.Scope.copy()
	return &out
}

// StockAudit records a physical count against a variant.
type StockAudit struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	VariantID   uuid.UUID `json:"variant_id" gorm:"type:uuid;not null;index"`
	ExpectedQty int64     `json:"expected_qty" gorm:"not null"`
	CountedQty  int64     `json:"counted_qty" gorm:"not null"`
	Note        string    `json:"note"`
	AuditedAt   time.Time `json:"audited_at"`
	Scope
	Lifecycle
}

func (StockAudit) TableName() string { return "stock_audits" }

func (a *StockAudit) Kind() Kind                      { return KindStockAudit }
func (a *StockAudit) GetID() uuid.UUID                { return a.ID }
func (a *StockAudit) SetID(id uuid.UUID)              { a.ID = id }
func (a *StockAudit) UniqueValues() map[string]string { return nil }

func (a *StockAudit) Ref(column string) (uuid.UUID, bool) {
	if column == "variant_id" {
		return a.VariantID, a.VariantID != uuid.Nil
	}
	return a.Scope.ref(column)
}

func (a *StockAudit) Variance() int64 {
	return a.CountedQty - a.ExpectedQty
}

func (a *StockAudit) Clone() Record {
	out := *a
	out.Scope = a.Scope.copy()
	return &out
}

type Expense struct {
	ID       uuid.UUID       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title    string          `json:"title" gorm:"not null"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount" gorm:"type:numeric(14,2);not null"`
	SpentOn  time.Time       `json:"spent_on"`
	Note     string          `json:"note"`
	Scope
	Lifecycle
}

func (Expense) TableName() string { return "expenses" }

func (e *Expense) Kind() Kind                          { return KindExpense }
func (e *Expense) GetID() uuid.UUID                    { return e.ID }
func (e *Expense) SetID(id uuid.UUID)                  { e.ID = id }
func (e *Expense) Ref(column string) (uuid.UUID, bool) { return e.Scope.ref(column) }
func (e *Expense) UniqueValues() map[string]string     { return nil }

func (e *Expense) Clone() Record {
	out := *e
	out.Scope = e.Scope.copy()
	return &out
}

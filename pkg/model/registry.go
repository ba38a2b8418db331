package model

import (
	"fmt"
	"sort"
)

// UniqueSpec declares a unique column. PerTenant uniqueness is enforced on
// (tenant_id, field); otherwise the column is unique across the whole table.
// Tombstoned rows keep their values reserved.
type UniqueSpec struct {
	Field     string
	PerTenant bool
	Index     string
}

// Definition describes one table to the stores.
type Definition struct {
	Kind   Kind
	Table  string
	Scoped bool
	// Catalog kinds are served by the generic entity API.
	Catalog bool
	Unique  []UniqueSpec

	New      func() Record
	newSlice func() any
	collect  func(any) []Record
}

// NewSlice returns a pointer to an empty slice of the concrete model type,
// suitable as a gorm Find destination.
func (d Definition) NewSlice() any {
	return d.newSlice()
}

// Collect converts a slice produced by NewSlice back into records.
func (d Definition) Collect(slice any) []Record {
	return d.collect(slice)
}

var definitions = map[Kind]Definition{}

func register[T any, PT interface {
	*T
	Record
}](kind Kind, table string, scoped, catalog bool, unique ...UniqueSpec) {
	definitions[kind] = Definition{
		Kind:    kind,
		Table:   table,
		Scoped:  scoped,
		Catalog: catalog,
		Unique:  unique,
		New: func() Record {
			return PT(new(T))
		},
		newSlice: func() any {
			return &[]T{}
		},
		collect: func(slice any) []Record {
			items := *(slice.(*[]T))
			out := make([]Record, 0, len(items))
			for i := range items {
				out = append(out, PT(&items[i]))
			}
			return out
		},
	}
}

func perTenant(table, field string) UniqueSpec {
	return UniqueSpec{Field: field, PerTenant: true, Index: fmt.Sprintf("uq_%s_%s", table, field)}
}

func global(table, field string) UniqueSpec {
	return UniqueSpec{Field: field, Index: fmt.Sprintf("uq_%s_%s", table, field)}
}

func init() {
	register[Tenant](KindTenant, "tenants", false, false,
		global("tenants", "email"), global("tenants", "mobile"))
	register[Organisation](KindOrganisation, "organisations", false, false)
	register[Branch](KindBranch, "branches", false, false,
		global("branches", "branch_code"))

	register[Category](KindCategory, "categories", true, true,
		perTenant("categories", "name"))
	register[Unit](KindUnit, "units", true, true,
		perTenant("units", "short_name"))
	register[Product](KindProduct, "products", true, true,
		perTenant("products", "sku"))
	register[Variant](KindVariant, "variants", true, true,
		perTenant("variants", "sku"))
	register[StockAudit](KindStockAudit, "stock_audits", true, true)
	register[Expense](KindExpense, "expenses", true, true)
	register[Role](KindRole, "roles", true, true,
		perTenant("roles", "name"))
	register[User](KindUser, "users", true, true,
		global("users", "email"))

	register[InvoiceSequence](KindInvoiceSequence, "invoice_sequences", false, false,
		perTenant("invoice_sequences", "prefix"))
	register[Invoice](KindInvoice, "invoices", true, false,
		perTenant("invoices", "number"))
	register[InvoiceLine](KindInvoiceLine, "invoice_lines", true, false)
}

func Lookup(kind Kind) (Definition, bool) {
	def, ok := definitions[kind]
	return def, ok
}

func MustLookup(kind Kind) Definition {
	def, ok := definitions[kind]
	if !ok {
		panic(fmt.Sprintf("model: unknown kind %q", kind))
	}
	return def
}

// Definitions returns every registered table ordered by kind.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// UniqueFieldForIndex maps a unique index name back to its column.
func UniqueFieldForIndex(index string) (string, bool) {
	for _, def := range definitions {
		for _, spec := range def.Unique {
			if spec.Index == index {
				return spec.Field, true
			}
		}
	}
	return "", false
}

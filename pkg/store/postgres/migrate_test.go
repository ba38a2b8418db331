package postgres

import (
	"strings"
	"testing"

	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/model"
)

func TestUniqueIndexStatements(t *testing.T) {
	stmts := strings.Join(uniqueIndexStatements(), "\n")
	for _, want := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_products_sku ON products (tenant_id, sku)",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_tenants_email ON tenants (email)",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_invoice_sequences_prefix ON invoice_sequences (tenant_id, prefix)",
	} {
		if !strings.Contains(stmts, want) {
			t.Fatalf("missing statement %q", want)
		}
	}
}

func TestForeignKeyStatement(t *testing.T) {
	name, stmt := foreignKeyStatement(integrity.Rule{
		Child: model.KindVariant, Column: "product_id", Parent: model.KindProduct, Action: integrity.Cascade,
	})
	if name != "fk_variants_product" {
		t.Fatalf("unexpected constraint name %s", name)
	}
	want := "ALTER TABLE variants ADD CONSTRAINT fk_variants_product FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE RESTRICT"
	if stmt != want {
		t.Fatalf("unexpected statement %s", stmt)
	}
}

func TestMigrationOrderStartsWithHierarchy(t *testing.T) {
	order := migrationOrder()
	if len(order) != len(model.Definitions()) {
		t.Fatalf("expected every table once, got %d", len(order))
	}
	if order[0].Kind != model.KindTenant || order[1].Kind != model.KindOrganisation || order[2].Kind != model.KindBranch {
		t.Fatalf("unexpected order %s %s %s", order[0].Kind, order[1].Kind, order[2].Kind)
	}
}

package postgres

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/model"
)

// Migrate creates the tables, the unique indexes declared in the model
// registry and one ON DELETE RESTRICT foreign key per policy rule. Cascades
// are performed by the integrity engine, never by the database.
func (s *Store) Migrate(ctx context.Context, policy *integrity.Policy) error {
	db := s.db.WithContext(ctx)

	tables := []interface{}{&model.DomainEvent{}}
	for _, def := range migrationOrder() {
		tables = append(tables, def.New())
	}
	if err := db.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, stmt := range uniqueIndexStatements() {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create unique index: %w", err)
		}
	}

	for _, rule := range policy.Rules {
		name, stmt := foreignKeyStatement(rule)
		var exists int64
		if err := db.Raw("SELECT COUNT(*) FROM pg_constraint WHERE conname = ?", name).Scan(&exists).Error; err != nil {
			return fmt.Errorf("inspect constraint %s: %w", name, err)
		}
		if exists > 0 {
			continue
		}
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create constraint %s: %w", name, err)
		}
		s.logger.Info("Created foreign key", zap.String("constraint", name))
	}
	return nil
}

// migrationOrder lists parents before children.
func migrationOrder() []model.Definition {
	order := []model.Kind{model.KindTenant, model.KindOrganisation, model.KindBranch}
	seen := map[model.Kind]bool{}
	var out []model.Definition
	for _, kind := range order {
		out = append(out, model.MustLookup(kind))
		seen[kind] = true
	}
	for _, def := range model.Definitions() {
		if !seen[def.Kind] {
			out = append(out, def)
		}
	}
	return out
}

func uniqueIndexStatements() []string {
	var out []string
	for _, def := range model.Definitions() {
		for _, spec := range def.Unique {
			columns := spec.Field
			if spec.PerTenant {
				columns = "tenant_id, " + spec.Field
			}
			out = append(out, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)", spec.Index, def.Table, columns))
		}
	}
	return out
}

func foreignKeyStatement(rule integrity.Rule) (string, string) {
	child := model.MustLookup(rule.Child).Table
	parent := model.MustLookup(rule.Parent).Table
	name := fmt.Sprintf("fk_%s_%s", child, strings.TrimSuffix(rule.Column, "_id"))
	stmt := fmt.Sprintf(
		"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (id) ON DELETE RESTRICT",
		child, name, rule.Column, parent,
	)
	return name, stmt
}

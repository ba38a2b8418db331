// Package integrity holds the declarative referential integrity policy and
// the generic delete/restore engine that enforces it. Database level cascade
// rules are not relied upon: every delete walks this table.
package integrity

import (
	"fmt"

	"github.com/billforge/billforge/pkg/model"
	"github.com/billforge/billforge/pkg/store"
)

type Action string

const (
	Restrict Action = "RESTRICT"
	Cascade  Action = "CASCADE"
)

// Rule says what happens to Child rows whose Column points at a Parent row
// being deleted.
type Rule struct {
	Child  model.Kind
	Column string
	Parent model.Kind
	Action Action
}

func (r Rule) Reference() store.Reference {
	return store.Reference{Child: r.Child, Column: r.Column}
}

type Policy struct {
	Rules []Rule
	// SoftDeleteIsDelete makes tombstoned children invisible to soft deletes:
	// they neither block a RESTRICT nor get re-tombstoned by a CASCADE.
	// When false, tombstoned children block like active ones.
	SoftDeleteIsDelete bool
}

func NewPolicy(rules []Rule, softDeleteIsDelete bool) (*Policy, error) {
	p := &Policy{Rules: rules, SoftDeleteIsDelete: softDeleteIsDelete}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultPolicy returns the application's policy table.
func DefaultPolicy(softDeleteIsDelete bool) *Policy {
	return &Policy{Rules: DefaultRules(), SoftDeleteIsDelete: softDeleteIsDelete}
}

// DefaultRules is the single source for delete propagation across the schema.
func DefaultRules() []Rule {
	rules := []Rule{
		{Child: model.KindOrganisation, Column: "tenant_id", Parent: model.KindTenant, Action: Restrict},
		{Child: model.KindBranch, Column: "tenant_id", Parent: model.KindTenant, Action: Restrict},
		{Child: model.KindBranch, Column: "organisation_id", Parent: model.KindOrganisation, Action: Cascade},
		// Sequences are tenant wide and only matter while the tenant exists.
		{Child: model.KindInvoiceSequence, Column: "tenant_id", Parent: model.KindTenant, Action: Cascade},
	}

	for _, def := range model.Definitions() {
		if !def.Scoped {
			continue
		}
		rules = append(rules,
			Rule{Child: def.Kind, Column: "tenant_id", Parent: model.KindTenant, Action: Restrict},
			Rule{Child: def.Kind, Column: "organisation_id", Parent: model.KindOrganisation, Action: Restrict},
			Rule{Child: def.Kind, Column: "branch_id", Parent: model.KindBranch, Action: Restrict},
		)
	}

	return append(rules,
		Rule{Child: model.KindProduct, Column: "category_id", Parent: model.KindCategory, Action: Restrict},
		Rule{Child: model.KindProduct, Column: "unit_id", Parent: model.KindUnit, Action: Restrict},
		Rule{Child: model.KindVariant, Column: "product_id", Parent: model.KindProduct, Action: Cascade},
		Rule{Child: model.KindStockAudit, Column: "variant_id", Parent: model.KindVariant, Action: Cascade},
		Rule{Child: model.KindUser, Column: "role_id", Parent: model.KindRole, Action: Restrict},
		Rule{Child: model.KindInvoiceLine, Column: "invoice_id", Parent: model.KindInvoice, Action: Cascade},
		Rule{Child: model.KindInvoiceLine, Column: "product_id", Parent: model.KindProduct, Action: Restrict},
	)
}

// ChildrenOf returns the rules whose parent is kind, RESTRICT rules first.
func (p *Policy) ChildrenOf(kind model.Kind) []Rule {
	var restrict, cascade []Rule
	for _, rule := range p.Rules {
		if rule.Parent != kind {
			continue
		}
		if rule.Action == Restrict {
			restrict = append(restrict, rule)
		} else {
			cascade = append(cascade, rule)
		}
	}
	return append(restrict, cascade...)
}

// ParentsOf returns the rules whose child is kind, in declaration order.
func (p *Policy) ParentsOf(kind model.Kind) []Rule {
	var out []Rule
	for _, rule := range p.Rules {
		if rule.Child == kind {
			out = append(out, rule)
		}
	}
	return out
}

// Validate rejects unknown kinds, unknown actions, duplicate columns and
// cascade cycles.
func (p *Policy) Validate() error {
	seen := make(map[store.Reference]bool, len(p.Rules))
	for _, rule := range p.Rules {
		if _, ok := model.Lookup(rule.Child); !ok {
			return fmt.Errorf("integrity: unknown child kind %q", rule.Child)
		}
		if _, ok := model.Lookup(rule.Parent); !ok {
			return fmt.Errorf("integrity: unknown parent kind %q", rule.Parent)
		}
		if rule.Column == "" {
			return fmt.Errorf("integrity: rule %s -> %s has no column", rule.Child, rule.Parent)
		}
		if rule.Action != Restrict && rule.Action != Cascade {
			return fmt.Errorf("integrity: rule %s.%s has invalid action %q", rule.Child, rule.Column, rule.Action)
		}
		if seen[rule.Reference()] {
			return fmt.Errorf("integrity: duplicate rule for %s.%s", rule.Child, rule.Column)
		}
		seen[rule.Reference()] = true
	}
	return p.checkCascadeCycles()
}

func (p *Policy) checkCascadeCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[model.Kind]int)
	var visit func(kind model.Kind) error
	visit = func(kind model.Kind) error {
		switch marks[kind] {
		case visiting:
			return fmt.Errorf("integrity: cascade cycle through %s", kind)
		case done:
			return nil
		}
		marks[kind] = visiting
		for _, rule := range p.ChildrenOf(kind) {
			if rule.Action != Cascade {
				continue
			}
			if err := visit(rule.Child); err != nil {
				return err
			}
		}
		marks[kind] = done
		return nil
	}
	for _, rule := range p.Rules {
		if err := visit(rule.Parent); err != nil {
			return err
		}
	}
	return nil
}

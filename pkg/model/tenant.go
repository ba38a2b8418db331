package model

import (
	"github.com/google/uuid"
)

type PlanType string

const (
	PlanStarter  PlanType = "starter"
	PlanStandard PlanType = "standard"
	PlanPro      PlanType = "pro"
)

// PlanLimits bounds how many children a tenant may own.
type PlanLimits struct {
	MaxOrganisations int `json:"max_organisations"`
	MaxBranches      int `json:"max_branches"`
	MaxUsers         int `json:"max_users"`
}

var planLimits = map[PlanType]PlanLimits{
	PlanStarter:  {MaxOrganisations: 1, MaxBranches: 1, MaxUsers: 3},
	PlanStandard: {MaxOrganisations: 3, MaxBranches: 10, MaxUsers: 25},
	PlanPro:      {MaxOrganisations: 10, MaxBranches: 50, MaxUsers: 200},
}

func (p PlanType) Valid() bool {
	_, ok := planLimits[p]
	return ok
}

func (p PlanType) Limits() PlanLimits {
	return planLimits[p]
}

// Tenant is the billing account at the root of the ownership tree.
type Tenant struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name             string    `json:"name" gorm:"not null"`
	Email            string    `json:"email" gorm:"not null"`
	Mobile           string    `json:"mobile" gorm:"not null"`
	PlanType         PlanType  `json:"plan_type" gorm:"type:varchar(20);not null;default:'starter'"`
	MaxOrganisations int       `json:"max_organisations" gorm:"not null;default:1"`
	MaxBranches      int       `json:"max_branches" gorm:"not null;default:1"`
	MaxUsers         int       `json:"max_users" gorm:"not null;default:3"`
	Active           bool      `json:"active" gorm:"not null;default:true"`
	Lifecycle
}

func (Tenant) TableName() string { return "tenants" }

func (t *Tenant) Kind() Kind                   { return KindTenant }
func (t *Tenant) GetID() uuid.UUID             { return t.ID }
func (t *Tenant) SetID(id uuid.UUID)           { t.ID = id }
func (t *Tenant) Owner() Scope                 { return Scope{TenantID: t.ID} }
func (t *Tenant) Ref(string) (uuid.UUID, bool) { return uuid.Nil, false }

func (t *Tenant) UniqueValues() map[string]string {
	return map[string]string{"email": t.Email, "mobile": t.Mobile}
}

func (t *Tenant) Clone() Record {
	c := *t
	return &c
}

func (t *Tenant) Limits() PlanLimits {
	return PlanLimits{MaxOrganisations: t.MaxOrganisations, MaxBranches: t.MaxBranches, MaxUsers: t.MaxUsers}
}

// ApplyPlan fills zero limits from the plan defaults.
func (t *Tenant) ApplyPlan() {
	if t.PlanType == "" {
		t.PlanType = PlanStarter
	}
	defaults := t.PlanType.Limits()
	if t.MaxOrganisations == 0 {
		t.MaxOrganisations = defaults.MaxOrganisations
	}
	if t.MaxBranches == 0 {
		t.MaxBranches = defaults.MaxBranches
	}
	if t.MaxUsers == 0 {
		t.MaxUsers = defaults.MaxUsers
	}
}

type Organisation struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Name     string    `json:"name" gorm:"not null"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	Address  string    `json:"address"`
	Active   bool      `json:"active" gorm:"not null;default:true"`
	Lifecycle
}

func (Organisation) TableName() string { return "organisations" }

func (o *Organisation) Kind() Kind                      { return KindOrganisation }
func (o *Organisation) GetID() uuid.UUID                { return o.ID }
func (o *Organisation) SetID(id uuid.UUID)              { o.ID = id }
func (o *Organisation) UniqueValues() map[string]string { return nil }

func (o *Organisation) Owner() Scope {
	return Scope{TenantID: o.TenantID, OrganisationID: o.ID}
}

func (o *Organisation) Ref(column string) (uuid.UUID, bool) {
	if column == "tenant_id" {
		return o.TenantID, o.TenantID != uuid.Nil
	}
	return uuid.Nil, false
}

func (o *Organisation) Clone() Record {
	c := *o
	return &c
}

type Branch struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OrganisationID uuid.UUID `json:"organisation_id" gorm:"type:uuid;not null;index"`
	TenantID       uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Name           string    `json:"name" gorm:"not null"`
	BranchCode     string    `json:"branch_code" gorm:"not null"`
	Address        string    `json:"address"`
	Phone          string    `json:"phone"`
	IsHeadOffice   bool      `json:"is_head_office" gorm:"not null;default:false"`
	Active         bool      `json:"active" gorm:"not null;default:true"`
	Lifecycle
}

func (Branch) TableName() string { return "branches" }

func (b *Branch) Kind() Kind         { return KindBranch }
func (b *Branch) GetID() uuid.UUID   { return b.ID }
func (b *Branch) SetID(id uuid.UUID) { b.ID = id }

func (b *Branch) Owner() Scope {
	id := b.ID
	return Scope{TenantID: b.TenantID, OrganisationID: b.OrganisationID, BranchID: &id}
}

func (b *Branch) Ref(column string) (uuid.UUID, bool) {
	switch column {
	case "tenant_id":
		return b.TenantID, b.TenantID != uuid.Nil
	case "organisation_id":
		return b.OrganisationID, b.OrganisationID != uuid.Nil
	}
	return uuid.Nil, false
}

func (b *Branch) UniqueValues() map[string]string {
	return map[string]string{"branch_code": b.BranchCode}
}

func (b *Branch) Clone() Record {
	c := *b
	return &c
}

package model

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type Role struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name        string         `json:"name" gorm:"not null"`
	Permissions pq.StringArray `json:"permissions" gorm:"type:text[]"`
	Scope
	Lifecycle
}

func (Role) TableName() string { return "roles" }

func (r *Role) Kind() Kind                          { return KindRole }
func (r *Role) GetID() uuid.UUID                    { return r.ID }
func (r *Role) SetID(id uuid.UUID)                  { r.ID = id }
func (r *Role) Ref(column string) (uuid.UUID, bool) { return r.Scope.ref(column) }

func (r *Role) UniqueValues() map[string]string {
	return map[string]string{"name": r.Name}
}

func (r *Role) Allows(permission string) bool {
	for _, p := range r.Permissions {
		if p == permission || p == "*" {
			return true
		}
	}
	return false
}

func (r *Role) Clone() Record {
	out := *r
	out.Scope = r.Scope.copy()
	if r.Permissions != nil {
		out.Permissions = append(pq.StringArray(nil), r.Permissions...)
	}
	return &out
}

// User is a staff login bounded by the tenant's max_users.
type User struct {
	ID     uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Email  string     `json:"email" gorm:"not null"`
	Name   string     `json:"name" gorm:"not null"`
	RoleID *uuid.UUID `json:"role_id,omitempty" gorm:"type:uuid;index"`
	Active bool       `json:"active" gorm:"not null;default:true"`
	Scope
	Lifecycle
}

func (User) TableName() string { return "users" }

func (u *User) Kind() Kind         { return KindUser }
func (u *User) GetID() uuid.UUID   { return u.ID }
func (u *User) SetID(id uuid.UUID) { u.ID = id }

func (u *User) Ref(column string) (uuid.UUID, bool) {
	if column == "role_id" {
		return optionalRef(u.RoleID)
	}
	return u.Scope.ref(column)
}

func (u *User) UniqueValues() map[string]string {
	return map[string]string{"email": u.Email}
}

func (u *User) Clone() Record {
	out := *u
	out.Scope = u.Scope.copy()
	out.RoleID = copyUUID(u.RoleID)
	return &out
}

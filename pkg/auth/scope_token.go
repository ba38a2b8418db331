// Package auth issues and validates the bearer tokens that bind an API
// caller to a tenant, and optionally to one organisation and branch.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// ScopeClaims is the payload of an API token. Empty OrganisationID or
// BranchID leave the caller free to address any organisation or branch of
// the tenant.
type ScopeClaims struct {
	jwt.RegisteredClaims
	TenantID       string `json:"tenant_id"`
	OrganisationID string `json:"organisation_id,omitempty"`
	BranchID       string `json:"branch_id,omitempty"`
	Permissions    string `json:"permissions,omitempty"`
}

// Subject identifies who a token is issued to.
type Subject struct {
	ID             string
	TenantID       uuid.UUID
	OrganisationID *uuid.UUID
	BranchID       *uuid.UUID
	Permissions    []string
}

type TokenManager struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	now        func() time.Time
}

func NewTokenManager(signingKey []byte, ttl time.Duration, issuer string) *TokenManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenManager{signingKey: signingKey, ttl: ttl, issuer: issuer, now: time.Now}
}

func (m *TokenManager) Issue(subject Subject) (string, error) {
	if subject.TenantID == uuid.Nil {
		return "", errors.New("auth: tenant is required")
	}
	now := m.now()
	claims := ScopeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   subject.ID,
			Issuer:    m.issuer,
		},
		TenantID:    subject.TenantID.String(),
		Permissions: strings.Join(subject.Permissions, ","),
	}
	if subject.OrganisationID != nil {
		claims.OrganisationID = subject.OrganisationID.String()
	}
	if subject.BranchID != nil {
		claims.BranchID = subject.BranchID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *TokenManager) Validate(tokenString string) (*ScopeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ScopeClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ScopeClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.TenantID); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Subject converts validated claims back into ids.
func (c *ScopeClaims) Subject() (Subject, error) {
	tenantID, err := uuid.Parse(c.TenantID)
	if err != nil {
		return Subject{}, ErrInvalidToken
	}
	subject := Subject{ID: c.RegisteredClaims.Subject, TenantID: tenantID}
	if c.OrganisationID != "" {
		id, err := uuid.Parse(c.OrganisationID)
		if err != nil {
			return Subject{}, ErrInvalidToken
		}
		subject.OrganisationID = &id
	}
	if c.BranchID != "" {
		id, err := uuid.Parse(c.BranchID)
		if err != nil {
			return Subject{}, ErrInvalidToken
		}
		subject.BranchID = &id
	}
	if c.Permissions != "" {
		subject.Permissions = strings.Split(c.Permissions, ",")
	}
	return subject, nil
}

func (c *ScopeClaims) HasPermission(required string) bool {
	for _, p := range strings.Split(c.Permissions, ",") {
		if p == required || p == "*" {
			return true
		}
	}
	return false
}

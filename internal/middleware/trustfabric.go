// Package middleware holds the gin middleware shared across DGC services:
// the trust fabric's two gates (component I), idempotency, error handling,
// audit logging and metrics — adapted from the teacher gateway's
// internal/middleware package.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dgc-backbone/dgc/internal/apperrors"
)

const (
	HeaderServiceToken    = "X-Service-Token"
	HeaderGovernanceRole  = "X-Governance-Role"
	HeaderGovernanceActor = "X-Governance-Actor"
)

// ServiceAuth enforces the shared-secret service token gate. When token is
// empty the gate permits all requests, per §4.I.
func ServiceAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if c.GetHeader(HeaderServiceToken) != token {
			c.Error(apperrors.New(apperrors.CodeUnauthorizedService, "missing or invalid service token", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RoleSet parses a comma-separated allow-list; "*" allows any role.
type RoleSet struct {
	allowAny bool
	roles    map[string]bool
}

// ParseRoleSet builds a RoleSet from a comma-separated env-style value,
// falling back to defaults when raw is empty.
func ParseRoleSet(raw string, defaults ...string) RoleSet {
	if strings.TrimSpace(raw) == "" {
		return ParseRoleSet(strings.Join(defaults, ","))
	}
	rs := RoleSet{roles: make(map[string]bool)}
	for _, part := range strings.Split(raw, ",") {
		role := strings.ToLower(strings.TrimSpace(part))
		if role == "" {
			continue
		}
		if role == "*" {
			rs.allowAny = true
			continue
		}
		rs.roles[role] = true
	}
	return rs
}

// Allows reports whether the normalized role is permitted.
func (rs RoleSet) Allows(role string) bool {
	if rs.allowAny {
		return true
	}
	return rs.roles[strings.ToLower(strings.TrimSpace(role))]
}

// GovernanceRole extracts and normalizes the x-governance-role header.
func GovernanceRole(c *gin.Context) string {
	return strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderGovernanceRole)))
}

// RequireGovernanceRole aborts with 403 unless the caller's role is in rs.
// It does not check actor consistency; call CheckActorConsistency once the
// body's actor field is known.
func RequireGovernanceRole(rs RoleSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GovernanceRole(c)
		if !rs.Allows(role) {
			c.Error(apperrors.New(apperrors.CodeForbidden, "governance role not permitted for this action", nil).WithStatusCode(http.StatusForbidden))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CheckActorConsistency enforces that, when x-governance-actor is present,
// it matches the body-declared actor field. Returns an *apperrors.AppError
// on mismatch, nil otherwise.
func CheckActorConsistency(c *gin.Context, bodyActor string) *apperrors.AppError {
	headerActor := strings.TrimSpace(c.GetHeader(HeaderGovernanceActor))
	if headerActor == "" {
		return nil
	}
	if headerActor != bodyActor {
		return apperrors.New(apperrors.CodeForbidden, "x-governance-actor does not match request actor", nil).WithStatusCode(http.StatusForbidden)
	}
	return nil
}

package auth

import "github.com/golang-jwt/jwt/v5"

// Role is the caller's role as resolved by the access gate.
type Role string

const (
	RoleSubmitter Role = "submitter"
	RoleVerifier  Role = "verifier"
	RoleAdmin     Role = "admin"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSubmitter, RoleVerifier, RoleAdmin:
		return true
	}
	return false
}

// Caller is the already-authenticated identity handed to the workflow.
type Caller struct {
	ID           string `json:"id"`
	Role         Role   `json:"role"`
	Organization string `json:"organization,omitempty"`
}

// CanReview reports whether the caller may act as a verifier.
func (c Caller) CanReview() bool {
	return c.Role == RoleVerifier || c.Role == RoleAdmin
}

// Claims is the JWT payload accepted by the gate.
type Claims struct {
	Role         Role   `json:"role"`
	Organization string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Package auth issues and checks the HS256 session tokens used by portal
// users and admins, and stores their bcrypt-hashed credentials.
package auth

import "github.com/golang-jwt/jwt/v5"

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Claims is the JWT payload of a portal session.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the session belongs to an admin.
func (c *Claims) IsAdmin() bool { return c != nil && c.Role == RoleAdmin }

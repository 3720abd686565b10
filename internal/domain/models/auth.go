package models

import "github.com/golang-jwt/jwt/v5"

// Claims is the bearer token payload accepted by the HTTP peer.
type Claims struct {
	jwt.RegisteredClaims        // sub, iss, aud, exp, iat
	Email                string `json:"email,omitempty"`
	Role                 string `json:"role,omitempty"` // "anon" tokens are rejected
}

// Principal returns the subject claim.
func (c *Claims) Principal() string {
	return c.Subject
}

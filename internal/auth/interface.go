package auth

import "docstore/internal/domain/models"

// TokenVerifier validates bearer tokens presented to the HTTP peer.
type TokenVerifier interface {
	// VerifyToken validates a JWT and returns its claims. Invalid, expired
	// or badly signed tokens yield domain.ErrUnauthorized.
	VerifyToken(tokenString string) (*models.Claims, error)

	// Close releases resources held by the verifier.
	Close() error
}

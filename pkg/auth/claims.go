package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID    uuid.UUID
	SessionID *string
	JTI       string
}

// AccessTokenClaims represents the typed JWT presented by clients. SessionID
// carries the anonymous session the user shopped under before signing in, so
// guest carts can be merged on first authenticated request.
type AccessTokenClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	SessionID *string   `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Caller is the authenticated principal attached to every request.
type Caller struct {
	UserID uint
	Role   enums.Role
}

// IsAdmin reports whether the caller may act on any resource.
func (c Caller) IsAdmin() bool {
	return c.Role == enums.RoleAdmin
}

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uint
	Role   enums.Role
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	UserID uint       `json:"user_id"`
	Role   enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// Caller converts the verified claims into a request principal.
func (c AccessTokenClaims) Caller() Caller {
	return Caller{UserID: c.UserID, Role: c.Role}
}

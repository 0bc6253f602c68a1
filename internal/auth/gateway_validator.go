package auth

import (
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
)

// GatewayValidator bridges the JWT service to the chat gateway's connect
// handshake. It accepts the same access tokens the HTTP layer accepts.
type GatewayValidator struct {
	jwt *JWTService
}

func NewGatewayValidator(jwt *JWTService) *GatewayValidator {
	return &GatewayValidator{jwt: jwt}
}

// Validate checks the bearer token and returns the authenticated user id.
func (v *GatewayValidator) Validate(token string) (string, error) {
	claims, err := v.jwt.ValidateAccessToken(token)
	if err != nil {
		return "", apperrors.ErrUnauthorized
	}
	return claims.UserID, nil
}

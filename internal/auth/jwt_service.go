package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL defines the fallback validity period for refresh tokens.
	DefaultRefreshTokenTTL = 14 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret          string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	UserID    string `json:"uid"`
	Nickname  string `json:"nick,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTService is responsible for issuing and validating JSON Web Tokens.
type JWTService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// GenerateAccessToken issues a signed short-lived JWT for the given user.
func (s *JWTService) GenerateAccessToken(userID, nickname string) (string, error) {
	return s.generate(userID, nickname, tokenTypeAccess, s.accessTTL)
}

// GenerateRefreshToken issues a signed long-lived JWT usable only for renewal.
func (s *JWTService) GenerateRefreshToken(userID string) (string, error) {
	return s.generate(userID, "", tokenTypeRefresh, s.refreshTTL)
}

func (s *JWTService) generate(userID, nickname, tokenType string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("jwt: user id is required")
	}

	now := s.now()
	claims := &Claims{
		UserID:    userID,
		Nickname:  nickname,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and validates a signed access JWT, returning the
// application claims.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, tokenTypeAccess)
}

// ValidateRefreshToken parses and validates a signed refresh JWT.
func (s *JWTService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, tokenTypeRefresh)
}

func (s *JWTService) validate(tokenString, wantType string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}
	if claims.UserID == "" {
		return nil, errors.New("jwt: missing user id claim")
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("jwt: unexpected token type %q", claims.TokenType)
	}

	return &claims, nil
}

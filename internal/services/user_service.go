package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/internal/auth"
	"github.com/dugout-developers/catchmate-server/internal/database"
	"github.com/dugout-developers/catchmate-server/internal/models"
	"github.com/dugout-developers/catchmate-server/pkg/crypto"
	apperrors "github.com/dugout-developers/catchmate-server/pkg/errors"
)

// RegisterInput describes the fields accepted when registering a user.
type RegisterInput struct {
	Nickname    string
	Email       string
	Password    string
	DeviceToken string
	AvatarURL   string
}

// TokenPair bundles the credentials issued on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// UserService manages registration, login, and the profile fields the chat
// and notification pipeline depends on.
type UserService struct {
	db  *gorm.DB
	jwt *auth.JWTService
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, jwt *auth.JWTService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if jwt == nil {
		return nil, errors.New("user service: jwt service is required")
	}
	return &UserService{db: db, jwt: jwt}, nil
}

// Register provisions a new user with a hashed password.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	nickname := strings.TrimSpace(input.Nickname)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if nickname == "" {
		return nil, apperrors.NewBadRequest("nickname is required")
	}
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Nickname:     nickname,
		Email:        email,
		PasswordHash: hashed,
		DeviceToken:  strings.TrimSpace(input.DeviceToken),
		AvatarURL:    strings.TrimSpace(input.AvatarURL),
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, apperrors.New("USER_EXISTS", "Nickname or email already taken", 409)
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}
	return user, nil
}

// Login verifies the credentials and issues a token pair.
func (s *UserService) Login(ctx context.Context, email, password string) (*TokenPair, *models.User, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("user service: load user: %w", err)
	}

	if !crypto.VerifyPassword(user.PasswordHash, password) {
		return nil, nil, apperrors.ErrInvalidCredentials
	}

	pair, err := s.issueTokens(&user)
	if err != nil {
		return nil, nil, err
	}
	return pair, &user, nil
}

// Refresh exchanges a valid refresh token for a new token pair.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx = ensureContext(ctx)

	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, apperrors.ErrUnauthorized
	}

	user, err := s.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, apperrors.ErrUnauthorized
	}
	return s.issueTokens(user)
}

func (s *UserService) issueTokens(user *models.User) (*TokenPair, error) {
	access, err := s.jwt.GenerateAccessToken(user.ID, user.Nickname)
	if err != nil {
		return nil, fmt.Errorf("user service: issue access token: %w", err)
	}
	refresh, err := s.jwt.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("user service: issue refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// GetByID loads a user by id.
func (s *UserService) GetByID(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// UpdateDeviceToken records the push registration for the user's device. An
// empty token clears the registration.
func (s *UserService) UpdateDeviceToken(ctx context.Context, userID, token string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("device_token", strings.TrimSpace(token))
	if result.Error != nil {
		return fmt.Errorf("user service: update device token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vidshare/backend/internal/apperror"
	"github.com/vidshare/backend/internal/models"
	"github.com/vidshare/backend/internal/repository"
	"github.com/vidshare/backend/internal/utils"
	"github.com/vidshare/backend/pkg/logger"
	"go.uber.org/zap"
)

// UserStore is the credential store used by AuthService.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type AuthService struct {
	users         UserStore
	jwtSecret     string
	jwtExpiration time.Duration
	storeTimeout  time.Duration
}

func NewAuthService(users UserStore, jwtSecret string, jwtExpiration, storeTimeout time.Duration) *AuthService {
	return &AuthService{
		users:         users,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
		storeTimeout:  storeTimeout,
	}
}

// Length caps follow the column widths in models.
type registerInput struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=creator consumer"`
}

type loginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterUser creates an account with the given role.
func (s *AuthService) RegisterUser(ctx context.Context, username, password, role string) (*models.User, error) {
	input := registerInput{
		Username: strings.TrimSpace(username),
		Password: password,
		Role:     role,
	}
	if err := validateInput(input); err != nil {
		logger.Log.Warn("Registration validation failed",
			zap.String("username", input.Username),
			zap.Error(err),
		)
		return nil, err
	}

	return s.register(ctx, input.Username, input.Password, models.Role(input.Role))
}

// RegisterCreator creates an account whose role is always creator.
func (s *AuthService) RegisterCreator(ctx context.Context, username, password string) (*models.User, error) {
	input := registerInput{
		Username: strings.TrimSpace(username),
		Password: password,
		Role:     string(models.RoleCreator),
	}
	if err := validateInput(input); err != nil {
		logger.Log.Warn("Creator registration validation failed",
			zap.String("username", input.Username),
			zap.Error(err),
		)
		return nil, err
	}

	return s.register(ctx, input.Username, input.Password, models.RoleCreator)
}

func (s *AuthService) register(ctx context.Context, username, password string, role models.Role) (*models.User, error) {
	start := time.Now()

	// 1. Check if username already exists
	lookupCtx, cancel := storeContext(ctx, s.storeTimeout)
	existing, err := s.users.GetUserByUsername(lookupCtx, username)
	cancel()
	if err != nil {
		logger.Log.Error("Failed to check username existence",
			zap.String("username", username),
			zap.Error(err),
		)
		return nil, apperror.Storage(err)
	}
	if existing != nil {
		logger.Log.Warn("Username already exists",
			zap.String("username", username),
		)
		return nil, apperror.Conflict("username already exists")
	}

	// 2. Hash password (Argon2)
	hashStart := time.Now()
	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		logger.Log.Error("Failed to hash password", zap.Error(err))
		return nil, fmt.Errorf("hash password: %w", err)
	}
	hashDuration := time.Since(hashStart)

	// 3. Create user; the unique index settles a concurrent registration
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hashedPassword,
		Role:         role,
	}

	createCtx, cancel := storeContext(ctx, s.storeTimeout)
	defer cancel()
	if err := s.users.CreateUser(createCtx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			logger.Log.Warn("Username taken during registration",
				zap.String("username", username),
			)
			return nil, apperror.Conflict("username already exists")
		}
		logger.Log.Error("Failed to create user in database",
			zap.String("username", username),
			zap.Error(err),
		)
		return nil, apperror.Storage(err)
	}

	logger.Log.Info("User registered successfully",
		zap.String("user_id", user.ID),
		zap.String("username", username),
		zap.String("role", string(role)),
		zap.Duration("hash_duration", hashDuration),
		zap.Duration("total_duration", time.Since(start)),
	)

	return user, nil
}

// Login returns a signed token. Unknown users and wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	start := time.Now()

	input := loginInput{Username: strings.TrimSpace(username), Password: password}
	if err := validateInput(input); err != nil {
		return "", err
	}

	// 1. Get user by username
	lookupCtx, cancel := storeContext(ctx, s.storeTimeout)
	user, err := s.users.GetUserByUsername(lookupCtx, input.Username)
	cancel()
	if err != nil {
		logger.Log.Error("Failed to get user by username",
			zap.String("username", input.Username),
			zap.Error(err),
		)
		return "", apperror.Storage(err)
	}
	if user == nil {
		utils.BurnVerify(password)
		logger.Log.Warn("Login failed: user not found",
			zap.String("username", input.Username),
		)
		return "", apperror.Auth(apperror.MsgInvalidCredentials)
	}

	// 2. Verify password
	verifyStart := time.Now()
	valid, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		// A stored hash we cannot parse is a data problem, not a caller mistake
		logger.Log.Error("Failed to verify password",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return "", apperror.Auth(apperror.MsgInvalidCredentials)
	}
	verifyDuration := time.Since(verifyStart)

	if !valid {
		logger.Log.Warn("Login failed: invalid password",
			zap.String("user_id", user.ID),
		)
		return "", apperror.Auth(apperror.MsgInvalidCredentials)
	}

	// 3. Generate JWT token
	token, err := utils.GenerateToken(user, s.jwtSecret, s.jwtExpiration)
	if err != nil {
		logger.Log.Error("Failed to generate JWT token",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return "", fmt.Errorf("sign token: %w", err)
	}

	logger.Log.Info("User logged in successfully",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Duration("password_verify_duration", verifyDuration),
		zap.Duration("total_duration", time.Since(start)),
	)

	return token, nil
}

// VerifyToken decodes a bearer token into its claims.
func (s *AuthService) VerifyToken(token string) (*utils.Claims, error) {
	if token == "" {
		return nil, apperror.Auth(apperror.MsgMissingToken)
	}

	claims, err := utils.ValidateToken(token, s.jwtSecret)
	if err != nil {
		logger.Log.Debug("Token rejected", zap.Error(err))
		return nil, apperror.Auth(apperror.MsgInvalidToken)
	}
	if !claims.Role.Valid() {
		logger.Log.Warn("Token with unknown role rejected",
			zap.String("user_id", claims.UserID),
			zap.String("role", string(claims.Role)),
		)
		return nil, apperror.Auth(apperror.MsgInvalidToken)
	}

	return claims, nil
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"verifiednyumba/backend/internal/apperr"
	"verifiednyumba/backend/pkg/sms"
)

const emailTokenTTL = 48 * time.Hour

// Hooks lets the verification workflow react to account events.
type Hooks interface {
	LandlordRegistered(ctx context.Context, userID uuid.UUID) error
	FlagsChanged(ctx context.Context, userID uuid.UUID) error
}

// Service implements registration, sessions, email and phone confirmation
type Service struct {
	repo   Repository
	tokens *TokenManager
	mailer Mailer
	sms    sms.Sender
	hooks  Hooks
	logger *zap.Logger
	now    func() time.Time
	code   func() (string, error)
}

func NewService(repo Repository, tokens *TokenManager, mailer Mailer, sender sms.Sender, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		mailer: mailer,
		sms:    sender,
		logger: logger,
		now:    time.Now,
		code:   generatePhoneCode,
	}
}

// SetHooks wires the verification workflow after construction.
func (s *Service) SetHooks(hooks Hooks) {
	s.hooks = hooks
}

// Register creates a tenant or landlord account
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}
	if len(req.Password) < 8 {
		return nil, apperr.Validation("password must be at least 8 characters")
	}

	role := req.Role
	if role == "" {
		role = RoleTenant
	}
	if role != RoleTenant && role != RoleLandlord {
		return nil, apperr.Validation("role must be TENANT or LANDLORD")
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("an account with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
		Phone:        strings.TrimSpace(req.Phone),
		Role:         role,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if err := s.issueEmailToken(ctx, user); err != nil {
		s.logger.Warn("Failed to issue email verification", zap.String("user_id", user.ID.String()), zap.Error(err))
	}

	// the record is also created lazily on first access
	if user.IsLandlord() && s.hooks != nil {
		if err := s.hooks.LandlordRegistered(ctx, user.ID); err != nil {
			s.logger.Warn("Failed to open verification record", zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(user.Role)))

	return user, nil
}

// Login checks credentials and opens a session
func (s *Service) Login(ctx context.Context, req LoginRequest) (*User, *TokenPair, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, apperr.NotAuthenticated("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, nil, apperr.NotAuthenticated("invalid credentials")
	}
	if user.Banned {
		return nil, nil, apperr.Forbidden("account suspended")
	}

	pair, err := s.StartSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// StartSession issues a token pair and stores the refresh token id.
func (s *Service) StartSession(ctx context.Context, user *User) (*TokenPair, error) {
	pair, refreshID, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetRefreshToken(ctx, user.ID, &refreshID, &pair.RefreshExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return pair, nil
}

// Refresh redeems a refresh token for a new pair. Each refresh token can be
// redeemed once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*User, *TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return nil, nil, apperr.NotAuthenticated("session expired")
	}

	user, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || user.RefreshTokenID == nil || *user.RefreshTokenID != claims.ID {
		return nil, nil, apperr.NotAuthenticated("session expired")
	}
	if user.Banned {
		return nil, nil, apperr.Forbidden("account suspended")
	}

	pair, newID, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, nil, err
	}
	rotated, err := s.repo.RotateRefreshToken(ctx, user.ID, claims.ID, newID, pair.RefreshExpiresAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if !rotated {
		return nil, nil, apperr.NotAuthenticated("session expired")
	}
	return user, pair, nil
}

func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	return s.repo.SetRefreshToken(ctx, userID, nil, nil)
}

// CurrentUser resolves the session subject with fresh verification flags.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, apperr.NotAuthenticated("not authenticated")
	}
	if user.Banned {
		return nil, apperr.Forbidden("account suspended")
	}
	return user, nil
}

func (s *Service) ParseAccessToken(token string) (*Claims, error) {
	return s.tokens.ParseAccess(token)
}

// VerifyEmail consumes an email token and marks the address verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	consumed, err := s.repo.ConsumeEmailToken(ctx, hashToken(token), s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to consume email token: %w", err)
	}
	if consumed == nil {
		return nil, apperr.Validation("invalid or expired verification link")
	}

	if err := s.repo.MarkEmailVerified(ctx, consumed.UserID); err != nil {
		return nil, fmt.Errorf("failed to mark email verified: %w", err)
	}
	if s.hooks != nil {
		if err := s.hooks.FlagsChanged(ctx, consumed.UserID); err != nil {
			return nil, fmt.Errorf("failed to refresh verification tier: %w", err)
		}
	}

	return s.repo.GetUserByID(ctx, consumed.UserID)
}

func (s *Service) issueEmailToken(ctx context.Context, user *User) error {
	token, err := randomToken(32)
	if err != nil {
		return err
	}
	record := &EmailToken{
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: s.now().UTC().Add(emailTokenTTL),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateEmailToken(ctx, record); err != nil {
		return err
	}
	if s.mailer == nil {
		return nil
	}
	return s.mailer.SendEmailVerification(ctx, user, token)
}

func randomToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

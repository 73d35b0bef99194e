// Package service holds the business rules between the HTTP handlers and the repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"framez/internal/cache"
	"framez/internal/models"
	"framez/internal/observability"
	"framez/internal/repository"
	"framez/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenIssuer   = "framez-api"
	TokenAudience = "framez-client"
	TokenTTL      = 7 * 24 * time.Hour
)

// ErrInvalidToken is returned by VerifyToken for any token that cannot be trusted.
var ErrInvalidToken = errors.New("invalid or expired token")

// AuthService issues and verifies bearer tokens for registered users.
type AuthService struct {
	users  repository.UserRepository
	secret []byte
	now    func() time.Time
}

// AuthResult is returned by Signup and Login.
type AuthResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type SignupInput struct {
	Email       string
	Password    string
	DisplayName string
}

func NewAuthService(users repository.UserRepository, secret string) *AuthService {
	return &AuthService{users: users, secret: []byte(secret), now: time.Now}
}

// Signup creates an account. The display name is optional here because clients
// set it with a separate profile update.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	span, ctx := observability.StartServiceSpan(ctx, "AuthService", "Signup")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, models.NewValidationError("Email and password are required")
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, models.NewAuthError("Password is too weak", err)
	}

	var displayName *string
	if strings.TrimSpace(in.DisplayName) != "" {
		name, err := validation.DisplayName(in.DisplayName)
		if err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		displayName = &name
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		span.SetError(err)
		return nil, models.NewInternalError(err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, models.NewAuthError("Email already registered", err)
		}
		span.SetError(err)
		return nil, models.NewInternalError(err)
	}
	user.PasswordHash = ""

	return s.issue(user)
}

// Login checks the password and issues a fresh token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	span, ctx := observability.StartServiceSpan(ctx, "AuthService", "Login")
	defer span.End()

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, models.NewValidationError("Email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		span.SetError(err)
		return nil, models.NewInternalError(err)
	}
	if user == nil {
		return nil, models.NewAuthError("Invalid credentials", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, models.NewAuthError("Invalid credentials", nil)
	}
	user.PasswordHash = ""

	return s.issue(user)
}

// Logout revokes the token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return models.NewAuthError("Invalid or expired token", err)
	}
	jti, _ := claims["jti"].(string)

	ttl := TokenTTL
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ttl = exp.Sub(s.now())
	}
	if err := cache.MarkRevoked(ctx, jti, ttl); err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// Me returns the account a token was issued for.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateProfile sets the display name and returns the updated account.
func (s *AuthService) UpdateProfile(ctx context.Context, userID, displayName string) (*models.User, error) {
	name, err := validation.DisplayName(displayName)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := s.users.UpdateDisplayName(ctx, userID, name); err != nil {
		if models.HasCode(err, models.CodeNotFound) {
			return nil, err
		}
		return nil, models.NewInternalError(err)
	}
	return s.users.GetByID(ctx, userID)
}

// VerifyToken validates signature, issuer, audience, expiry and revocation.
func (s *AuthService) VerifyToken(ctx context.Context, token string) (string, string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", "", ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", ErrInvalidToken
	}
	jti, _ := claims["jti"].(string)

	revoked, err := cache.IsRevoked(ctx, jti)
	if err != nil {
		// Fail open on cache errors.
		observability.GlobalLogger.WarnContext(ctx, "revocation check failed", "error", err.Error())
	}
	if revoked {
		return "", "", ErrInvalidToken
	}
	return sub, jti, nil
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	token, err := s.generateToken(user.ID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &AuthResult{Token: token, User: user}, nil
}

func (s *AuthService) generateToken(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("JWT secret not configured")
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": TokenIssuer,
		"aud": TokenAudience,
		"exp": now.Add(TokenTTL).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *AuthService) parse(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(TokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

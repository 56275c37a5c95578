package services

import (
	"context"
	"errors"
	"time"

	"callnet/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type AuthService interface {
	GenerateToken(userID domain.UserID, username string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	GetUserFromContext(ctx context.Context) (domain.UserID, error)
}

type Claims struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(userID domain.UserID, username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type userContextKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, userID domain.UserID) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

func (s *authService) GetUserFromContext(ctx context.Context) (domain.UserID, error) {
	userID, ok := ctx.Value(userContextKey{}).(domain.UserID)
	if !ok || userID == "" {
		return "", domain.ErrUnauthorized
	}
	return userID, nil
}

// TokenIdentity is the identity of an agent that signs in with a fixed access token.
type TokenIdentity struct {
	userID domain.UserID
	token  string
}

// NewTokenIdentity validates token once and remembers its subject.
func NewTokenIdentity(auth AuthService, token string) (*TokenIdentity, error) {
	claims, err := auth.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &TokenIdentity{userID: claims.UserID, token: token}, nil
}

func (i *TokenIdentity) CurrentUserID(ctx context.Context) (domain.UserID, error) {
	return i.userID, nil
}

// Token returns the raw access token for the signaling handshake.
func (i *TokenIdentity) Token() string {
	return i.token
}

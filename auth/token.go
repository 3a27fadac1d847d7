package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meal-analysis-service/database"
	"meal-analysis-service/models"

	"github.com/golang-jwt/jwt/v5"
)

// uidPrefix namespaces federated Kakao accounts in the user store.
const uidPrefix = "kakao:"

// TokenService mints and verifies custom authentication tokens for users
// arriving via the Kakao OAuth provider.
type TokenService struct {
	db        *database.Database
	jwtSecret []byte
	validity  time.Duration
}

// NewTokenService creates a new token service.
func NewTokenService(db *database.Database, jwtSecret string, validity time.Duration) *TokenService {
	return &TokenService{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		validity:  validity,
	}
}

// MintCustomToken ensures the user record exists and is up to date, then
// signs a custom token for the client to exchange with the identity provider.
func (s *TokenService) MintCustomToken(ctx context.Context, req models.TokenRequest) (string, error) {
	uid := uidPrefix + req.ID

	user := models.User{
		UID:             uid,
		Email:           req.Email,
		Nickname:        req.Nickname,
		ProfileImageURL: req.ProfileImageURL,
	}
	if _, err := s.db.GetOrCreateUser(ctx, user); err != nil {
		return "", err
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      uid,
		"provider": "kakao",
		"iat":      now.Unix(),
		"exp":      now.Add(s.validity).Unix(),
	})

	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token and returns the uid it was minted for.
func (s *TokenService) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	uid, ok := claims["sub"].(string)
	if !ok || uid == "" {
		return "", errors.New("token has no subject")
	}
	return uid, nil
}

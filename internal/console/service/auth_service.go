package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/pixel-gateway/internal/domain"
)

// AuthService выпускает RS256 токены для оператора консоли.
// Единственный аккаунт задается конфигом: username + bcrypt-хэш пароля.
type AuthService struct {
	adminUser  string
	adminHash  string
	privateKey *rsa.PrivateKey
}

func NewAuthService(adminUser, adminHash string, privateKey *rsa.PrivateKey) *AuthService {
	return &AuthService{
		adminUser:  adminUser,
		adminHash:  adminHash,
		privateKey: privateKey,
	}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (источник правды — конфиг)
	if username != s.adminUser || s.adminHash == "" {
		return nil, errors.New("invalid credentials")
	}

	// 2. Проверка пароля (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(s.adminHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}

	// 3. Формирование Claims
	expiresAt := time.Now().Add(time.Hour * 24)
	claims := &domain.CustomClaims{
		UserID: username,
		Scopes: map[string]bool{"admin": true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pixel-console",
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	// 4. Подпись токена закрытым ключом (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}

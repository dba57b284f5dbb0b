package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/qcom/otpverify/internal/config"
	"github.com/qcom/otpverify/internal/models"
	"github.com/sirupsen/logrus"
)

const TokenTypePhoneVerified = "phone_verified"

// TokenService issues and checks proof-of-verification tokens.
type TokenService struct {
	secretKey []byte
	expiry    time.Duration
	issuer    string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewTokenService(cfg *config.JWTConfig, logger *logrus.Logger) (*TokenService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	return &TokenService{
		secretKey: secretKey,
		expiry:    expiry,
		issuer:    cfg.Issuer,
		logger:    logger,
		now:       time.Now,
	}, nil
}

type Claims struct {
	Phone string `json:"phone"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

func (s *TokenService) Issue(phoneNumber string) (*models.VerificationToken, error) {
	now := s.now()
	claims := &Claims{
		Phone: phoneNumber,
		Type:  TokenTypePhoneVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   phoneNumber,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			ID:        uuid.New().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign verification token")
		return nil, fmt.Errorf("failed to sign verification token: %w", err)
	}

	return &models.VerificationToken{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresIn: int64(s.expiry.Seconds()),
		IssuedAt:  now,
	}, nil
}

func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Type != TokenTypePhoneVerified {
		return nil, fmt.Errorf("unexpected token type %q", claims.Type)
	}

	return claims, nil
}

// Package jwt mints and verifies the HS256 tokens that carry a participant's
// identity and display name.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped into every token and required on verification
const Issuer = "gameroom"

const minSecretLen = 32

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidAlgorithm = errors.New("invalid signing algorithm")
	ErrEmptySecretKey   = errors.New("secret key cannot be empty")
	ErrWeakSecretKey    = errors.New("secret key must be at least 32 characters")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrMissingIdentity  = errors.New("token carries no identity")
)

// Claims identify a participant. Subject mirrors Identity.
type Claims struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Config holds the signing secret and token lifetime
type Config struct {
	SecretKey string
	Duration  time.Duration
}

func (c Config) validate() error {
	switch {
	case c.SecretKey == "":
		return ErrEmptySecretKey
	case len(c.SecretKey) < minSecretLen:
		return ErrWeakSecretKey
	case c.Duration <= 0:
		return ErrInvalidDuration
	}
	return nil
}

// Service signs and parses participant tokens
type Service struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

func NewService(config Config) (*Service, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Service{
		secret:   []byte(config.SecretKey),
		lifetime: config.Duration,
		now:      time.Now,
	}, nil
}

// GenerateToken issues a token for identity valid for the configured duration
func (s *Service) GenerateToken(identity, displayName string) (string, error) {
	if identity == "" {
		return "", ErrMissingIdentity
	}
	issued := jwt.NewNumericDate(s.now())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Identity:    identity,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   identity,
			IssuedAt:  issued,
			NotBefore: issued,
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.lifetime)),
		},
	})
	return token.SignedString(s.secret)
}

// ValidateToken parses tokenString and returns its claims. Every failure maps
// to one of the package errors.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.key,
		jwt.WithTimeFunc(s.now),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case errors.Is(err, ErrInvalidAlgorithm):
		return nil, ErrInvalidAlgorithm
	default:
		return nil, ErrInvalidToken
	}

	if claims.Identity == "" {
		return nil, ErrMissingIdentity
	}
	return claims, nil
}

func (s *Service) key(token *jwt.Token) (any, error) {
	if token.Method != jwt.SigningMethodHS256 {
		return nil, ErrInvalidAlgorithm
	}
	return s.secret, nil
}

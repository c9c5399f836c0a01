// Package auth guards the operator API with HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTTL is the lifetime of tokens issued by Login.
	DefaultTTL = 24 * time.Hour
	issuer     = "carbonx-marketplace"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrLoginDisabled      = errors.New("login is not configured")
)

// Claims carried by marketplace tokens.
type Claims struct {
	Wallet string `json:"wallet,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies tokens. A Service without a secret is disabled
// and lets every request through.
type Service struct {
	secret    []byte
	adminHash []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewService creates a token service. adminHash is a bcrypt hash of the
// operator password; an empty hash disables Login.
func NewService(secret, adminHash string) *Service {
	return &Service{
		secret:    []byte(secret),
		adminHash: []byte(adminHash),
		ttl:       DefaultTTL,
		now:       time.Now,
	}
}

// Enabled reports whether requests must carry a token.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// HashPassword returns the bcrypt hash stored in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IssueToken signs a token for subject valid for ttl.
func (s *Service) IssueToken(subject, wallet string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", ErrLoginDisabled
	}
	now := s.now()
	claims := Claims{
		Wallet: wallet,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, algorithm and expiry.
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Login checks the operator password and returns a token.
func (s *Service) Login(password, wallet string) (string, error) {
	if !s.Enabled() || len(s.adminHash) == 0 {
		return "", ErrLoginDisabled
	}
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.IssueToken("operator", wallet, s.ttl)
}

// Package auth protects the API with a bearer token checked against a bcrypt
// hash from the configuration.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
)

// GetLogger returns the auth package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("auth")
}

// ErrInvalidToken is returned for a token that does not match the hash.
var ErrInvalidToken = errors.NewStd("invalid or expired token")

// AuthMethod represents the type of authentication used
type AuthMethod int

const (
	AuthMethodUnknown AuthMethod = iota
	AuthMethodNone               // auth disabled
	AuthMethodToken
)

func (m AuthMethod) String() string {
	switch m {
	case AuthMethodNone:
		return "none"
	case AuthMethodToken:
		return "token"
	default:
		return "unknown"
	}
}

// Service defines the authentication interface for API endpoints
type Service interface {
	// IsAuthRequired reports whether requests must carry a token
	IsAuthRequired() bool

	// ValidateToken checks if a bearer token is valid.
	// Returns nil on success, or ErrInvalidToken on failure.
	ValidateToken(token string) error
}

// verifiedTokenTTL bounds how long a verified token skips the bcrypt check.
const verifiedTokenTTL = 5 * time.Minute

// TokenService validates bearer tokens against one bcrypt hash. Tokens that
// matched are remembered by digest so bcrypt runs once per TTL, not per request.
type TokenService struct {
	hash     []byte
	verified *cache.Cache
}

// NewTokenService creates a TokenService. An empty hash disables auth.
func NewTokenService(hash string) (*TokenService, error) {
	s := &TokenService{}
	if hash == "" {
		return s, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse_token_hash").
			Build()
	}

	s.hash = []byte(hash)
	// Only matching tokens are stored, so the janitor is not needed
	s.verified = cache.New(verifiedTokenTTL, 0)
	return s, nil
}

// IsAuthRequired reports whether a hash is configured.
func (s *TokenService) IsAuthRequired() bool {
	return len(s.hash) > 0
}

// ValidateToken checks token against the configured hash.
func (s *TokenService) ValidateToken(token string) error {
	if !s.IsAuthRequired() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}

	sum := sha256.Sum256([]byte(token))
	digest := hex.EncodeToString(sum[:])
	if _, ok := s.verified.Get(digest); ok {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	s.verified.SetDefault(digest, struct{}{})
	return nil
}

var _ Service = (*TokenService)(nil)

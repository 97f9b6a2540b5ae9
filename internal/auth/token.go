// Package auth generates and hashes the opaque bearer tokens that back
// sessions. Tokens are random, stored only as SHA-256 hashes, and validated
// against the session registry on every request.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

const tokenBytes = 32

// NewToken returns a fresh random bearer token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest under which a token is stored.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

// ValidateShape rejects tokens that cannot possibly be ours before any
// storage lookup happens.
func ValidateShape(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(decoded) != tokenBytes {
		return ErrInvalidToken
	}
	return nil
}

// Package auth attaches bearer tokens to realtime handshakes.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ErrEmptyToken is returned when a token source yields an empty token.
var ErrEmptyToken = errors.New("empty token")

// TokenSource supplies the access token sent with each handshake.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token() (string, error) {
	if s == "" {
		return "", ErrEmptyToken
	}
	return string(s), nil
}

// FileToken reads the token from a file on every call, so rotated
// tokens are picked up on the next reconnect.
type FileToken struct {
	Path string
}

// Token reads and trims the token file.
func (f FileToken) Token() (string, error) {
	if f.Path == "" {
		return "", fmt.Errorf("token file path is required")
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("%s: %w", f.Path, ErrEmptyToken)
	}
	return token, nil
}

// ApplyBearer sets the Authorization header from src.
func ApplyBearer(header http.Header, src TokenSource) error {
	token, err := src.Token()
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	header.Set("Authorization", "Bearer "+token)
	return nil
}

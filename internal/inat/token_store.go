package inat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vouchersnap/vouchersnap/internal/logger"
)

// TokenStore keeps the access token in a private JSON file.
type TokenStore struct {
	path string
	now  func() time.Time
}

// NewTokenStore returns a store backed by path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path, now: time.Now}
}

// Path returns the token file location.
func (s *TokenStore) Path() string {
	return s.path
}

// Load returns the stored token, or nil when none is stored or it has
// expired. An unreadable file is treated as no token.
func (s *TokenStore) Load() *Token {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.WithError(err).Warn("Cannot read token file")
		}
		return nil
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil || tok.AccessToken == "" {
		logger.WithField("path", s.path).Warn("Ignoring malformed token file")
		return nil
	}
	if tok.Expired(s.now()) {
		logger.Debug("Stored token has expired")
		return nil
	}
	return &tok
}

// Save writes the token with owner-only permissions. A zero CreatedAt is
// stamped with the current time.
func (s *TokenStore) Save(tok Token) error {
	if tok.AccessToken == "" {
		return fmt.Errorf("empty access token")
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now()
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// Clear removes the stored token. A missing file is not an error.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

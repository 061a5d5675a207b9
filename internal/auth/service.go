package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mensa-erp/mensa-erp/internal/shared"
)

const tokenScheme = "mensa"

// Service wraps API token issuance and verification.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// IssueToken mints a token for the user and returns the plaintext exactly
// once. Format: mensa_<prefix>_<secret>.
func (s *Service) IssueToken(ctx context.Context, userID int64, label string, ttl time.Duration) (string, error) {
	prefix, err := randomHex(6)
	if err != nil {
		return "", err
	}
	secret, err := randomHex(24)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	token := APIToken{
		UserID:     userID,
		Label:      label,
		Prefix:     prefix,
		SecretHash: string(hash),
		CreatedAt:  s.now().UTC(),
	}
	if ttl > 0 {
		expires := token.CreatedAt.Add(ttl)
		token.ExpiresAt = &expires
	}
	if _, err := s.repo.CreateToken(ctx, token); err != nil {
		return "", fmt.Errorf("auth: create token: %w", err)
	}
	return tokenScheme + "_" + prefix + "_" + secret, nil
}

// Authenticate resolves a presented token to its active user.
func (s *Service) Authenticate(ctx context.Context, presented string) (*User, error) {
	prefix, secret, ok := splitToken(presented)
	if !ok {
		return nil, shared.ErrInvalidToken
	}
	token, err := s.repo.FindTokenByPrefix(ctx, prefix)
	if err != nil {
		return nil, shared.ErrInvalidToken
	}
	if token.Expired(s.now()) {
		return nil, shared.ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)); err != nil {
		return nil, shared.ErrInvalidToken
	}
	user, err := s.repo.GetUser(ctx, token.UserID)
	if err != nil || !user.IsActive {
		return nil, shared.ErrInvalidToken
	}
	_ = s.repo.TouchToken(ctx, token.ID, s.now().UTC())
	return user, nil
}

// RevokeToken deletes an issued token.
func (s *Service) RevokeToken(ctx context.Context, id int64) error {
	return s.repo.DeleteToken(ctx, id)
}

func splitToken(raw string) (prefix, secret string, ok bool) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	if len(parts) != 3 || parts[0] != tokenScheme || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

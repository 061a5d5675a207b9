package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mensa-erp/mensa-erp/internal/shared"
)

type memRepo struct {
	tokens map[string]*APIToken
	users  map[int64]*User
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{tokens: map[string]*APIToken{}, users: map[int64]*User{}}
}

func (m *memRepo) FindTokenByPrefix(_ context.Context, prefix string) (*APIToken, error) {
	token, ok := m.tokens[prefix]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *token
	return &copied, nil
}

func (m *memRepo) CreateToken(_ context.Context, token APIToken) (int64, error) {
	m.nextID++
	token.ID = m.nextID
	m.tokens[token.Prefix] = &token
	return token.ID, nil
}

func (m *memRepo) DeleteToken(_ context.Context, id int64) error {
	for prefix, token := range m.tokens {
		if token.ID == id {
			delete(m.tokens, prefix)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *memRepo) TouchToken(_ context.Context, id int64, usedAt time.Time) error {
	for _, token := range m.tokens {
		if token.ID == id {
			token.LastUsedAt = &usedAt
		}
	}
	return nil
}

func (m *memRepo) GetUser(_ context.Context, id int64) (*User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func TestIssueAndAuthenticate(t *testing.T) {
	repo := newMemRepo()
	repo.users[1] = &User{ID: 1, Name: "kitchen-admin", IsActive: true}
	svc := NewService(repo)

	plaintext, err := svc.IssueToken(context.Background(), 1, "cli", 0)
	require.NoError(t, err)
	require.Contains(t, plaintext, "mensa_")

	user, err := svc.Authenticate(context.Background(), plaintext)
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)
}

func TestAuthenticateRejectsMalformed(t *testing.T) {
	svc := NewService(newMemRepo())

	for _, raw := range []string{"", "mensa_onlyprefix", "wrong_ab_cd", "mensa__secret"} {
		_, err := svc.Authenticate(context.Background(), raw)
		require.ErrorIs(t, err, shared.ErrInvalidToken)
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	repo := newMemRepo()
	repo.users[1] = &User{ID: 1, IsActive: true}
	svc := NewService(repo)

	plaintext, err := svc.IssueToken(context.Background(), 1, "cli", 0)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), plaintext+"tampered")
	require.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	repo := newMemRepo()
	repo.users[1] = &User{ID: 1, IsActive: true}
	svc := NewService(repo)

	plaintext, err := svc.IssueToken(context.Background(), 1, "cli", time.Hour)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Authenticate(context.Background(), plaintext)
	require.ErrorIs(t, err, shared.ErrInvalidToken)
}

func TestAuthenticateRejectsInactiveUser(t *testing.T) {
	repo := newMemRepo()
	repo.users[1] = &User{ID: 1, IsActive: false}
	svc := NewService(repo)

	plaintext, err := svc.IssueToken(context.Background(), 1, "cli", 0)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), plaintext)
	require.ErrorIs(t, err, shared.ErrInvalidToken)
}

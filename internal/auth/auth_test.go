package auth_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/raphaelgruber/hairscan/internal/auth"
	"github.com/raphaelgruber/hairscan/internal/db"
	"github.com/raphaelgruber/hairscan/internal/models"
)

type memStore struct {
	mu    sync.Mutex
	users map[string]models.User
	next  int
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]models.User)}
}

func (s *memStore) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return nil, fmt.Errorf("create user: %w", db.ErrAlreadyExists)
		}
	}
	s.next++
	key := fmt.Sprintf("u%d", s.next)
	u.ID = surrealmodels.NewRecordID(models.UserTable, key)
	s.users[key] = u
	return &u, nil
}

func (s *memStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

func (s *memStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, db.ErrNotFound
}

func newProvider(store auth.UserStore, opts ...auth.Option) *auth.Provider {
	opts = append([]auth.Option{auth.WithBcryptCost(bcrypt.MinCost)}, opts...)
	return auth.NewProvider(store, opts...)
}

func signUp(t *testing.T, p *auth.Provider, email, password string) *auth.Identity {
	t.Helper()
	id, err := p.SignUp(context.Background(), auth.SignUpInput{
		Profile:  models.Profile{Name: "Ada", Surname: "Lovelace", Email: email},
		Password: password,
	})
	require.NoError(t, err)
	return id
}

func TestSignUpSignsIn(t *testing.T) {
	store := newMemStore()
	p := newProvider(store)

	id := signUp(t, p, " Ada@Example.com ", "secret")
	assert.Equal(t, "ada@example.com", id.Email)

	cur, err := p.CurrentUser()
	require.NoError(t, err)
	assert.Equal(t, id.UserID, cur.UserID)

	stored, err := store.GetUser(context.Background(), id.UserID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret")))
}

func TestSignUpDuplicateEmail(t *testing.T) {
	p := newProvider(newMemStore())
	signUp(t, p, "dup@example.com", "a")

	_, err := p.SignUp(context.Background(), auth.SignUpInput{
		Profile:  models.Profile{Email: "DUP@example.com"},
		Password: "b",
	})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestSignIn(t *testing.T) {
	store := newMemStore()
	signUp(t, newProvider(store), "ada@example.com", "secret")

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"valid", "ada@example.com", "secret", nil},
		{"case insensitive email", "ADA@example.com", "secret", nil},
		{"wrong password", "ada@example.com", "nope", auth.ErrInvalidCredentials},
		{"unknown user", "bob@example.com", "secret", auth.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(store)
			id, err := p.SignIn(context.Background(), tt.email, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				_, curErr := p.CurrentUser()
				assert.ErrorIs(t, curErr, auth.ErrAuthRequired)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ada@example.com", id.Email)
		})
	}
}

func TestSignInRateLimited(t *testing.T) {
	store := newMemStore()
	signUp(t, newProvider(store), "ada@example.com", "secret")

	p := newProvider(store, auth.WithRateLimit(rate.Limit(0), 2))
	ctx := context.Background()

	_, err := p.SignIn(ctx, "ada@example.com", "x")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "ada@example.com", "y")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = p.SignIn(ctx, "ada@example.com", "secret")
	assert.ErrorIs(t, err, auth.ErrRateLimited)

	// Limits are per email.
	_, err = p.SignIn(ctx, "other@example.com", "x")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestCurrentUserRequiresSignIn(t *testing.T) {
	p := newProvider(newMemStore())
	_, err := p.CurrentUser()
	assert.ErrorIs(t, err, auth.ErrAuthRequired)
}

func TestSessionRestoreAndSignOut(t *testing.T) {
	store := newMemStore()
	file := auth.NewSessionFile(filepath.Join(t.TempDir(), "nested", "session.yaml"))

	first := newProvider(store, auth.WithSessionFile(file))
	id := signUp(t, first, "ada@example.com", "secret")

	second := newProvider(store, auth.WithSessionFile(file))
	require.NoError(t, second.Restore(context.Background()))
	cur, err := second.CurrentUser()
	require.NoError(t, err)
	assert.Equal(t, id.UserID, cur.UserID)

	require.NoError(t, second.SignOut())
	_, err = second.CurrentUser()
	assert.ErrorIs(t, err, auth.ErrAuthRequired)

	third := newProvider(store, auth.WithSessionFile(file))
	require.NoError(t, third.Restore(context.Background()))
	_, err = third.CurrentUser()
	assert.ErrorIs(t, err, auth.ErrAuthRequired)
}

func TestRestoreDiscardsStaleSession(t *testing.T) {
	file := auth.NewSessionFile(filepath.Join(t.TempDir(), "session.yaml"))
	require.NoError(t, file.Save(auth.Identity{UserID: "gone", Email: "gone@example.com"}))

	p := newProvider(newMemStore(), auth.WithSessionFile(file))
	require.NoError(t, p.Restore(context.Background()))

	_, err := p.CurrentUser()
	assert.ErrorIs(t, err, auth.ErrAuthRequired)

	_, err = file.Load()
	assert.ErrorIs(t, err, auth.ErrNoSession)
}

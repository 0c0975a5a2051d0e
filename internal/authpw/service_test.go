package authpw

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"stagedir/api/internal/store"
)

type fakeUserStore struct {
	users map[string]store.User
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func newFakeStore(t *testing.T, password string, active bool) (*fakeUserStore, store.User) {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := store.User{
		ID:             uuid.New(),
		Email:          "ada@example.org",
		HashedPassword: hash,
		IsActive:       active,
	}
	return &fakeUserStore{users: map[string]store.User{user.Email: user}}, user
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	users, want := newFakeStore(t, "correct horse", true)
	svc := NewService(users)

	got, err := svc.Authenticate(ctx, "ada@example.org", "correct horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("user = %s, want %s", got.ID, want.ID)
	}
}

func TestAuthenticateFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	users, _ := newFakeStore(t, "correct horse", true)
	svc := NewService(users)

	cases := []struct {
		name            string
		email, password string
	}{
		{name: "wrong password", email: "ada@example.org", password: "wrong"},
		{name: "unknown email", email: "nobody@example.org", password: "correct horse"},
		{name: "empty email", email: "", password: "correct horse"},
		{name: "empty password", email: "ada@example.org", password: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Authenticate(ctx, tc.email, tc.password); !errors.Is(err, ErrBadCredentials) {
				t.Fatalf("authenticate = %v, want ErrBadCredentials", err)
			}
		})
	}
}

func TestAuthenticateInactiveUser(t *testing.T) {
	ctx := context.Background()
	users, _ := newFakeStore(t, "correct horse", false)
	svc := NewService(users)

	if _, err := svc.Authenticate(ctx, "ada@example.org", "correct horse"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("authenticate = %v, want ErrBadCredentials", err)
	}
}

func TestHashPasswordRejectsShort(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

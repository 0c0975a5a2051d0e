package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Minute)
	userID := uuid.New()

	token, err := issuer.Issue(userID, "ada@example.org")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != userID {
		t.Fatalf("verify = %s, want %s", got, userID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer("secret-a", time.Minute)
	other := NewIssuer("secret-b", time.Minute)

	token, err := issuer.Issue(uuid.New(), "ada@example.org")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("verify = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewIssuer("test-secret", -time.Minute)

	token, err := issuer.Issue(uuid.New(), "ada@example.org")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("verify = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Minute)
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("verify(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/teamspace/huddle/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("s3cret", time.Hour)
	tok, err := m.Generate(&domain.User{ID: "u1", Name: "Ada", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	u, err := m.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.ID != "u1" || u.Name != "Ada" || u.Role != domain.RoleAdmin {
		t.Fatalf("identity mangled: %+v", u)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	issuer := NewTokenManager("right", time.Hour)
	verifier := NewTokenManager("wrong", time.Hour)

	tok, err := issuer.Generate(&domain.User{ID: "u1", Name: "Ada", Role: domain.RoleMember})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := verifier.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	// The constructor clamps non-positive TTLs, so build one directly to
	// mint an already-expired token.
	m := &TokenManager{secret: []byte("s3cret"), ttl: -time.Minute}
	tok, err := m.Generate(&domain.User{ID: "u1", Name: "Ada", Role: domain.RoleMember})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := m.Parse(tok); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	m := NewTokenManager("s3cret", time.Hour)
	for _, tok := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := m.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

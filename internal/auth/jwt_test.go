package auth

import (
	"testing"
	"time"
)

var secret = []byte("test-secret")

func TestSignAndParse(t *testing.T) {
	token, err := SignToken(secret, "actor-42", "ed@example.com", time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	claims, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "actor-42" {
		t.Fatalf("Subject = %q, want %q", claims.Subject, "actor-42")
	}
	if claims.Email != "ed@example.com" {
		t.Fatalf("Email = %q, want %q", claims.Email, "ed@example.com")
	}
}

func TestParse_Expired(t *testing.T) {
	token, err := SignToken(secret, "actor-42", "", -time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	if _, err := ParseToken(secret, token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParse_WrongSecret(t *testing.T) {
	token, err := SignToken(secret, "actor-42", "", time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other-secret"), token); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParse_Garbage(t *testing.T) {
	if _, err := ParseToken(secret, "not.a.token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestParse_MissingSubject(t *testing.T) {
	token, err := SignToken(secret, "", "", time.Minute)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	if _, err := ParseToken(secret, token); err == nil {
		t.Fatal("expected error for token without subject")
	}
}

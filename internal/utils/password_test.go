package utils

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func withCost(t *testing.T, cost int) {
	t.Helper()
	prev := PasswordCost
	PasswordCost = cost
	t.Cleanup(func() { PasswordCost = prev })
}

func TestHashPassword_UsesConfiguredCost(t *testing.T) {
	withCost(t, bcrypt.MinCost)

	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost() error = %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Errorf("cost = %d, expected %d", cost, bcrypt.MinCost)
	}
}

func TestPasswordCost_Default(t *testing.T) {
	if PasswordCost != 12 {
		t.Errorf("PasswordCost = %d, expected 12", PasswordCost)
	}
}

func TestHashPassword_Salted(t *testing.T) {
	withCost(t, bcrypt.MinCost)

	h1, _ := HashPassword("secret123")
	h2, _ := HashPassword("secret123")
	if h1 == h2 {
		t.Error("two hashes of the same password should differ")
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	withCost(t, bcrypt.MinCost)

	_, err := HashPassword(strings.Repeat("a", 73))
	if !errors.Is(err, bcrypt.ErrPasswordTooLong) {
		t.Errorf("HashPassword(73 bytes) error = %v, expected ErrPasswordTooLong", err)
	}
}

func TestCheckPassword(t *testing.T) {
	withCost(t, bcrypt.MinCost)
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		expected bool
	}{
		{"match", "secret123", hash, true},
		{"wrong password", "secret124", hash, false},
		{"case sensitive", "SECRET123", hash, false},
		{"empty password", "", hash, false},
		{"empty hash", "secret123", "", false},
		{"not a bcrypt hash", "secret123", "sha256:abcdef", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckPassword(tt.password, tt.hash); got != tt.expected {
				t.Errorf("CheckPassword(%q) = %v, expected %v", tt.password, got, tt.expected)
			}
		})
	}
}

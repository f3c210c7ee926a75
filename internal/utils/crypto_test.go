package utils

import (
	"errors"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) *TokenCipher {
	t.Helper()
	c, err := NewTokenCipher("unit-test-encryption-key")
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}
	return c
}

func TestNewTokenCipher_EmptyKey(t *testing.T) {
	for _, key := range []string{"", "   "} {
		if _, err := NewTokenCipher(key); !errors.Is(err, ErrEncryptionConfig) {
			t.Errorf("NewTokenCipher(%q) error = %v, expected ErrEncryptionConfig", key, err)
		}
	}
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)
	plaintexts := []string{
		"CJT5_access_token_value",
		"na1-2b3c-refresh",
		strings.Repeat("x", 4096),
		"ünïcödé ✓",
	}

	for _, p := range plaintexts {
		enc, err := c.Encrypt(p)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if enc == p {
			t.Error("ciphertext should not equal plaintext")
		}
		dec, err := c.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if dec != p {
			t.Errorf("Decrypt(Encrypt(%q)) = %q", p, dec)
		}
	}
}

func TestTokenCipher_NonceMakesCiphertextUnique(t *testing.T) {
	c := newTestCipher(t)
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Error("encrypting the same plaintext twice should produce different ciphertext")
	}
}

func TestTokenCipher_Empty(t *testing.T) {
	c := newTestCipher(t)

	enc, err := c.Encrypt("")
	if err != nil || enc != "" {
		t.Errorf("Encrypt(\"\") = %q, %v; expected empty, nil", enc, err)
	}
	dec, err := c.Decrypt("")
	if err != nil || dec != "" {
		t.Errorf("Decrypt(\"\") = %q, %v; expected empty, nil", dec, err)
	}
}

func TestTokenCipher_Malformed(t *testing.T) {
	c := newTestCipher(t)
	good, _ := c.Encrypt("secret")

	tampered := []byte(good)
	if tampered[20] == 'A' {
		tampered[20] = 'B'
	} else {
		tampered[20] = 'A'
	}

	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"too short", "AAAA"},
		{"tampered", string(tampered)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.input); !errors.Is(err, ErrDecryptionFailure) {
				t.Errorf("Decrypt(%q) error = %v, expected ErrDecryptionFailure", tt.input, err)
			}
		})
	}
}

func TestTokenCipher_WrongKey(t *testing.T) {
	enc, _ := newTestCipher(t).Encrypt("secret")
	other, _ := NewTokenCipher("another-key")

	if _, err := other.Decrypt(enc); !errors.Is(err, ErrDecryptionFailure) {
		t.Errorf("Decrypt() with wrong key error = %v, expected ErrDecryptionFailure", err)
	}
}

func TestTokenCipher_Nil(t *testing.T) {
	var c *TokenCipher
	if _, err := c.Encrypt("x"); !errors.Is(err, ErrEncryptionConfig) {
		t.Errorf("nil Encrypt() error = %v, expected ErrEncryptionConfig", err)
	}
	if _, err := c.Decrypt("x"); !errors.Is(err, ErrEncryptionConfig) {
		t.Errorf("nil Decrypt() error = %v, expected ErrEncryptionConfig", err)
	}
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	if len(h) != 64 {
		t.Errorf("len(HashToken) = %d, expected 64", len(h))
	}
	if h != HashToken("abc") {
		t.Error("HashToken should be deterministic")
	}
	if h == HashToken("abd") {
		t.Error("different input should hash differently")
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"short", "*****"},
		{"abcdefghijkl", "abcd****ijkl"},
	}
	for _, tt := range tests {
		if got := MaskToken(tt.input); got != tt.expected {
			t.Errorf("MaskToken(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

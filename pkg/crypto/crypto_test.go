package crypto

import (
	"encoding/hex"
	"testing"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}

	if !VerifyPassword(hash, "secret") {
		t.Fatal("expected password verification to succeed")
	}

	if VerifyPassword(hash, "incorrect") {
		t.Fatal("expected password verification to fail")
	}
}

func TestGenerateHexToken(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		token, err := GenerateHexToken(32)
		if err != nil {
			t.Fatalf("token error: %v", err)
		}
		if len(token) != 64 {
			t.Fatalf("expected 64 hex characters, got %d", len(token))
		}
		if _, err := hex.DecodeString(token); err != nil {
			t.Fatalf("expected hex token: %v", err)
		}
		if _, dup := seen[token]; dup {
			t.Fatal("expected unique tokens")
		}
		seen[token] = struct{}{}
	}
}

func TestHashTokenIsStable(t *testing.T) {
	a := HashToken("abc")
	b := HashToken("abc")
	if a != b {
		t.Fatal("expected deterministic digest")
	}
	if a == HashToken("abd") {
		t.Fatal("expected different digests for different tokens")
	}
	if len(a) != 64 {
		t.Fatalf("expected sha256 hex length, got %d", len(a))
	}
}

package utils

import (
	"testing"
)

func TestHashString(t *testing.T) {
	hash := HashString("sk-audit-test")

	if len(hash) != 64 {
		t.Errorf("HashString() length = %d, want 64 hex chars", len(hash))
	}
	if hash != HashString("sk-audit-test") {
		t.Error("HashString() is not deterministic")
	}
	if hash == HashString("sk-audit-test2") {
		t.Error("HashString() collision on different inputs")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("abc", "abc") {
		t.Error("ConstantTimeEqual() = false for equal strings")
	}
	if ConstantTimeEqual("abc", "abd") {
		t.Error("ConstantTimeEqual() = true for different strings")
	}
	if ConstantTimeEqual("abc", "abcd") {
		t.Error("ConstantTimeEqual() = true for different lengths")
	}
}

func TestHashPasswordArgon2(t *testing.T) {
	password := "test-password-123"
	hash, err := HashPasswordArgon2(password)
	if err != nil {
		t.Fatalf("HashPasswordArgon2() error = %v", err)
	}

	if hash == "" {
		t.Error("HashPasswordArgon2() returned empty hash")
	}
	if len(hash) < 10 || hash[:10] != "$argon2id$" {
		t.Errorf("HashPasswordArgon2() hash format invalid: %s", hash)
	}
}

func TestVerifyPasswordArgon2(t *testing.T) {
	password := "test-password-123"
	hash, err := HashPasswordArgon2(password)
	if err != nil {
		t.Fatalf("HashPasswordArgon2() error = %v", err)
	}

	t.Run("valid password", func(t *testing.T) {
		valid, err := VerifyPasswordArgon2(password, hash)
		if err != nil {
			t.Fatalf("VerifyPasswordArgon2() error = %v", err)
		}
		if !valid {
			t.Error("VerifyPasswordArgon2() = false, want true")
		}
	})

	t.Run("invalid password", func(t *testing.T) {
		valid, err := VerifyPasswordArgon2("wrong-password", hash)
		if err != nil {
			t.Fatalf("VerifyPasswordArgon2() error = %v", err)
		}
		if valid {
			t.Error("VerifyPasswordArgon2() = true, want false")
		}
	})

	t.Run("invalid hash format", func(t *testing.T) {
		_, err := VerifyPasswordArgon2(password, "invalid-hash")
		if err == nil {
			t.Error("VerifyPasswordArgon2() error = nil, want error")
		}
	})

	t.Run("salted hashes differ", func(t *testing.T) {
		other, err := HashPasswordArgon2(password)
		if err != nil {
			t.Fatalf("HashPasswordArgon2() error = %v", err)
		}
		if other == hash {
			t.Error("two hashes of the same password should use different salts")
		}
	})
}

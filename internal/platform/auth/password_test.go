package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher_HashAndCompare(t *testing.T) {
	h, err := NewPasswordHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}

	const password = "Password123!"
	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if strings.Contains(hash, password) {
		t.Fatal("hash must not contain the plaintext")
	}
	if !h.Compare(hash, password) {
		t.Error("expected original password to match")
	}

	// Every single-character mutation fails.
	for i := range password {
		mutated := []byte(password)
		mutated[i]++
		if h.Compare(hash, string(mutated)) {
			t.Errorf("mutation at %d unexpectedly matched", i)
		}
	}
	if h.Compare(hash, password[:len(password)-1]) {
		t.Error("truncated password unexpectedly matched")
	}
}

func TestPasswordHasher_SaltsEachHash(t *testing.T) {
	h, _ := NewPasswordHasher(bcrypt.MinCost)
	a, _ := h.Hash("Password123!")
	b, _ := h.Hash("Password123!")
	if a == b {
		t.Error("expected distinct salts")
	}
}

func TestNewPasswordHasher_RejectsCost(t *testing.T) {
	if _, err := NewPasswordHasher(bcrypt.MaxCost + 1); err == nil {
		t.Error("expected out-of-range cost error")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"short", false},
		{"Password123!", true},
		{strings.Repeat("a", MaxPasswordLength), true},
		{strings.Repeat("a", MaxPasswordLength+1), false},
	}
	for _, tt := range tests {
		if err := ValidatePassword(tt.password); (err == nil) != tt.ok {
			t.Errorf("ValidatePassword(len %d) err = %v, want ok=%v", len(tt.password), err, tt.ok)
		}
	}
}

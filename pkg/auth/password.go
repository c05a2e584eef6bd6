package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultHashCost is the bcrypt work factor used in production. At cost 12
// a single hash takes a few hundred milliseconds, which is what makes
// offline guessing expensive.
const DefaultHashCost = 12

// PasswordHasher produces and verifies salted bcrypt digests. The salt is
// generated per call and embedded in the digest, so no separate salt
// storage exists.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher with the production cost factor.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: DefaultHashCost}
}

// NewPasswordHasherWithCost returns a hasher with a custom cost. Tests use
// bcrypt.MinCost to avoid paying the production work factor per case.
func NewPasswordHasherWithCost(cost int) *PasswordHasher {
	return &PasswordHasher{cost: cost}
}

// Hash transforms a plaintext password into a storage-safe digest. A
// failure here is operational; the caller must surface it rather than
// store anything.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		// bcrypt silently truncates beyond 72 bytes; reject instead.
		return "", fmt.Errorf("password exceeds 72 bytes")
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches the stored digest. bcrypt
// recomputes with the salt embedded in the digest and compares in constant
// time, so the result does not leak digest content through timing.
func (h *PasswordHasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

package utils

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// NewID returns a random record identifier.
func NewID() string {
	return uuid.NewString()
}

// NewETag returns an opaque version token for a stored document.
func NewETag() string {
	return `"` + uuid.NewString() + `"`
}

// HashSecret hashes a client secret using bcrypt
func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckSecret checks if a secret matches a hash
func CheckSecret(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}

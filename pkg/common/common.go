package common

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

const pbkdf2Iterations = 4096

// HashPassword derives a hex-encoded key from the password and salt.
func HashPassword(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, 32, sha256.New)
	return hex.EncodeToString(key)
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(password, salt, hashed string) bool {
	computed := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hashed)) == 1
}

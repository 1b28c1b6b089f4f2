// Package auth implements password hashing, bearer tokens, TOTP and
// per-IP rate limiting.
package auth

import (
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/sha3"
)

// BcryptCost is the work factor for password hashes.
const BcryptCost = 10

// Shake256Length is the byte length of the token fingerprint claim.
const Shake256Length = 16

// MinPasswordLength is enforced on setup and password changes.
const MinPasswordLength = 6

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NeedRehash reports whether a stored hash uses an outdated cost and
// should be regenerated on the next successful login.
func NeedRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != BcryptCost
}

// Shake256 returns the hex SHAKE256 digest of data, truncated to length
// bytes. Used to fingerprint the stored password hash inside tokens so a
// password change invalidates them.
func Shake256(data string, length int) string {
	out := make([]byte, length)
	sha3.ShakeSum256(out, []byte(data))
	return hex.EncodeToString(out)
}

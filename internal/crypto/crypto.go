// Package crypto wraps agent passwords for storage at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/griffithind/dockge/internal/errors"
)

// EncPrefix marks an encrypted value in the database.
const EncPrefix = "enc:"

const nonceSize = 12

const secretChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// deriveKey maps an arbitrary-length secret onto a 32-byte AES key.
func deriveKey(secret string) []byte {
	sum := sha3.Sum256([]byte(secret))
	return sum[:]
}

// Encrypt wraps a plaintext password as enc:{base64(nonce||ciphertext||tag)}.
func Encrypt(plaintext, secret string) (string, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, errors.CodeInternal, "cipher init failed")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, errors.CodeInternal, "gcm init failed")
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, errors.CodeInternal, "nonce generation failed")
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt unwraps an enc:-prefixed value produced by Encrypt.
func Decrypt(value, secret string) (string, error) {
	if !IsEncrypted(value) {
		return "", errors.New(errors.CategoryInternal, errors.CodeInternal, "value is not encrypted")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncPrefix))
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, errors.CodeInternal, "invalid base64 payload")
	}
	if len(raw) < nonceSize {
		return "", errors.New(errors.CategoryInternal, errors.CodeInternal, "ciphertext too short")
	}

	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, errors.CodeInternal, "cipher init failed")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, errors.CodeInternal, "gcm init failed")
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, errors.CodeInternal, "decryption failed")
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the enc: prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncPrefix)
}

// GenSecret returns a random alphanumeric secret of the given length.
func GenSecret(length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(secretChars)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		out[i] = secretChars[n.Int64()]
	}
	return string(out)
}

package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	out, err := Encrypt("s3cret", "master-key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "enc:"))

	plain, err := Decrypt(out, "master-key")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)
}

func TestEncryptedPayloadShape(t *testing.T) {
	out, err := Encrypt("s3cret", "master-key")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(out, "enc:"))
	require.NoError(t, err)
	// 12-byte nonce + 6-byte ciphertext + 16-byte tag.
	assert.GreaterOrEqual(t, len(raw), 34)
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	a, err := Encrypt("same", "key")
	require.NoError(t, err)
	b, err := Encrypt("same", "key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	out, err := Encrypt("s3cret", "key-a")
	require.NoError(t, err)

	_, err = Decrypt(out, "key-b")
	assert.Error(t, err)
}

func TestDecryptRejectsPlaintext(t *testing.T) {
	_, err := Decrypt("not-encrypted", "key")
	assert.Error(t, err)
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted("enc:abc"))
	assert.False(t, IsEncrypted("plaintext"))
	assert.False(t, IsEncrypted(""))
}

func TestGenSecret(t *testing.T) {
	s := GenSecret(64)
	assert.Len(t, s, 64)
	assert.NotEqual(t, s, GenSecret(64))
}

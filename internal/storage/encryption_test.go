package storage

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryption_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")

	enc, err := NewEncryption(key)
	require.NoError(t, err)

	plaintext := "sk-provider-secret-credential"
	ciphertext, err := enc.EncryptString(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)
	assert.NotContains(t, ciphertext, "secret")

	decrypted, err := enc.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryption_EmptyStringPassesThrough(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewEncryption(key)
	require.NoError(t, err)

	ciphertext, err := enc.EncryptString("")
	require.NoError(t, err)
	assert.Empty(t, ciphertext)

	plaintext, err := enc.DecryptString("")
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestEncryption_NonceMakesCiphertextsUnique(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewEncryption(key)
	require.NoError(t, err)

	first, err := enc.EncryptString("same input")
	require.NoError(t, err)
	second, err := enc.EncryptString("same input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestEncryption_InvalidKeySize(t *testing.T) {
	_, err := NewEncryption([]byte("short"))
	assert.Error(t, err)

	_, err = NewEncryption(make([]byte, 33))
	assert.Error(t, err)
}

func TestEncryption_WrongKeyFailsToDecrypt(t *testing.T) {
	keyA := make([]byte, 32)
	copy(keyA, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	keyB := make([]byte, 32)
	copy(keyB, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	encA, err := NewEncryption(keyA)
	require.NoError(t, err)
	encB, err := NewEncryption(keyB)
	require.NoError(t, err)

	ciphertext, err := encA.EncryptString("credential")
	require.NoError(t, err)

	_, err = encB.DecryptString(ciphertext)
	assert.Error(t, err)
}

func TestEncryption_TamperedCiphertextRejected(t *testing.T) {
	key := make([]byte, 32)
	enc, err := NewEncryption(key)
	require.NoError(t, err)

	ciphertext, err := enc.EncryptString("credential")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = enc.DecryptString(tampered)
	assert.Error(t, err)
}

func TestNewEncryptionFromBase64(t *testing.T) {
	encoded, err := GenerateKey(32)
	require.NoError(t, err)

	enc, err := NewEncryptionFromBase64(encoded)
	require.NoError(t, err)

	ciphertext, err := enc.EncryptString("hello")
	require.NoError(t, err)
	plaintext, err := enc.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello", plaintext)

	_, err = NewEncryptionFromBase64("")
	assert.Error(t, err)

	_, err = NewEncryptionFromBase64(strings.Repeat("!", 10))
	assert.Error(t, err)
}

func TestGenerateKey(t *testing.T) {
	encoded, err := GenerateKey(32)
	require.NoError(t, err)

	key, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = GenerateKey(20)
	assert.Error(t, err)
}

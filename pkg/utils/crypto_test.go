package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := "very-secret-oauth-token"

	encrypted, err := Encrypt([]byte(plaintext), testKey)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, encrypted)

	decrypted, err := Decrypt(encrypted, testKey)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	a, err := Encrypt([]byte("same input"), testKey)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same input"), testKey)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	encrypted, err := Encrypt([]byte("payload"), testKey)
	require.NoError(t, err)

	tampered := "A" + encrypted[1:]
	if tampered == encrypted {
		tampered = "B" + encrypted[1:]
	}

	_, err = Decrypt(tampered, testKey)
	assert.Error(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	encrypted, err := Encrypt([]byte("payload"), testKey)
	require.NoError(t, err)

	otherKey := []byte("fedcba9876543210fedcba9876543210")
	_, err = Decrypt(encrypted, otherKey)
	assert.Error(t, err)
}

func TestDecryptRejectsShortInput(t *testing.T) {
	_, err := Decrypt("AAAA", testKey)
	assert.Error(t, err)
}

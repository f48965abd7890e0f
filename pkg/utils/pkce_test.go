package utils

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeVerifier(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)

	// 32 random bytes, base64url without padding
	decoded, err := base64.RawURLEncoding.DecodeString(verifier)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	other, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, other)
}

func TestCodeChallengeS256(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.Equal(t, want, CodeChallengeS256(verifier))
}

func TestCodeChallengeIsDeterministic(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)

	assert.Equal(t, CodeChallengeS256(verifier), CodeChallengeS256(verifier))
}

func TestGenerateState(t *testing.T) {
	state, err := GenerateState()
	require.NoError(t, err)
	assert.Len(t, state, 32) // 16 bytes hex-encoded

	other, err := GenerateState()
	require.NoError(t, err)
	assert.NotEqual(t, state, other)
}

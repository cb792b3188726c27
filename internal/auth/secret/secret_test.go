package secret

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_EntropyAndEncoding(t *testing.T) {
	raw, err := Generate(DefaultBytes)
	require.NoError(t, err)

	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	require.NoError(t, err)
	assert.Len(t, decoded, DefaultBytes)

	other, err := Generate(DefaultBytes)
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestGenerate_RejectsShortSecrets(t *testing.T) {
	_, err := Generate(MinBytes - 1)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestHash_IsStableHexSHA256(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Hash("abc"))
	assert.Len(t, Hash("anything"), 64)
	assert.NotEqual(t, Hash("a"), Hash("b"))
}

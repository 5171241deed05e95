package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBox_SealOpen_RoundTrips(t *testing.T) {
	b, err := NewBox("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := b.Seal("sk-provider-api-key")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sk-provider-api-key")

	opened, err := b.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-provider-api-key", opened)
}

func TestBox_Seal_ProducesDifferentCiphertextEachTime(t *testing.T) {
	b, err := NewBox("passphrase")
	require.NoError(t, err)

	a, err := b.Seal("same plaintext")
	require.NoError(t, err)
	c, err := b.Seal("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, c, "salt+nonce must be randomized per call")
}

func TestBox_Open_WrongPassphraseFails(t *testing.T) {
	a, err := NewBox("passphrase-a")
	require.NoError(t, err)
	bbox, err := NewBox("passphrase-b")
	require.NoError(t, err)

	sealed, err := a.Seal("secret")
	require.NoError(t, err)

	_, err = bbox.Open(sealed)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewBox_RejectsEmptyPassphrase(t *testing.T) {
	_, err := NewBox("")
	assert.Error(t, err)
}

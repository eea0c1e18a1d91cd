package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretStore_RoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	store := NewSecretStore("hunter2", salt)
	require.True(t, store.Enabled())

	sealed, err := store.Encrypt("emby-api-key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, EncryptedPrefix))
	assert.NotContains(t, sealed, "emby-api-key")

	opened, err := store.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "emby-api-key", opened)
}

func TestSecretStore_WrongKey(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	sealed, err := NewSecretStore("right", salt).Encrypt("value")
	require.NoError(t, err)

	_, err = NewSecretStore("wrong", salt).Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSecretStore_PassThrough(t *testing.T) {
	store := NewSecretStore("", nil)
	assert.False(t, store.Enabled())

	sealed, err := store.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)

	_, err = store.Decrypt(EncryptedPrefix + "abcd")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSecretStore_LegacyPlaintext(t *testing.T) {
	store := NewSecretStore("secret", []byte("0123456789abcdef"))
	got, err := store.Decrypt("written-before-encryption")
	require.NoError(t, err)
	assert.Equal(t, "written-before-encryption", got)
}

func TestSecretStore_CorruptCiphertext(t *testing.T) {
	store := NewSecretStore("secret", []byte("0123456789abcdef"))
	_, err := store.Decrypt(EncryptedPrefix + "!!!not-base64")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionSecret = "this-is-a-very-long-test-secret-key-for-tests"

func TestEncryptor_RoundTrip(t *testing.T) {
	t.Setenv("WAFLOW_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAFLOW_ENCRYPTION_SECRET", testEncryptionSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("EAAB-secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, "EAAB-secret-token", ciphertext)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "EAAB-secret-token", plaintext)
}

func TestEncryptor_RandomNonce(t *testing.T) {
	t.Setenv("WAFLOW_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAFLOW_ENCRYPTION_SECRET", testEncryptionSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	first, err := enc.Encrypt("same input")
	require.NoError(t, err)
	second, err := enc.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "Encrypt must not be deterministic")
}

func TestEncryptor_LookupIsDeterministic(t *testing.T) {
	t.Setenv("WAFLOW_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAFLOW_ENCRYPTION_SECRET", testEncryptionSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	first, err := enc.EncryptForLookup("same input")
	require.NoError(t, err)
	second, err := enc.EncryptForLookup("same input")
	require.NoError(t, err)
	assert.Equal(t, first, second, "lookup ciphertext must be stable for equality queries")

	other, err := enc.EncryptForLookup("other input")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	plaintext, err := enc.Decrypt(first)
	require.NoError(t, err)
	assert.Equal(t, "same input", plaintext)
}

func TestEncryptor_DisabledPassesThrough(t *testing.T) {
	t.Setenv("WAFLOW_ENABLE_ENCRYPTION", "false")

	enc, err := NewEncryptor()
	require.NoError(t, err)

	out, err := enc.EncryptIfEnabled("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	out, err = enc.DecryptIfEnabled("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestEncryptor_SecretValidation(t *testing.T) {
	t.Setenv("WAFLOW_ENABLE_ENCRYPTION", "true")

	t.Setenv("WAFLOW_ENCRYPTION_SECRET", "")
	_, err := NewEncryptor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WAFLOW_ENCRYPTION_SECRET")

	t.Setenv("WAFLOW_ENCRYPTION_SECRET", "short")
	_, err = NewEncryptor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestEncryptor_DecryptRejectsGarbage(t *testing.T) {
	t.Setenv("WAFLOW_ENABLE_ENCRYPTION", "true")
	t.Setenv("WAFLOW_ENCRYPTION_SECRET", testEncryptionSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)

	_, err = enc.Decrypt("not-base64!!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("QQ==") // valid base64, shorter than a nonce
	assert.Error(t, err)
}

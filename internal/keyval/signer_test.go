package keyval

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyfile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "operator.key")

	addr, err := GenerateKeyfile(path, []byte("hunter2"))
	require.NoError(t, err)

	signer, err := LoadSigner(path, []byte("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, addr, signer.Address())

	sig, err := signer.Sign([]byte("message"))
	require.NoError(t, err)
	assert.Len(t, sig, ed25519.SignatureSize)
}

func TestKeyfile_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.key")
	_, err := GenerateKeyfile(path, []byte("correct"))
	require.NoError(t, err)

	_, err = LoadSigner(path, []byte("wrong"))
	assert.Error(t, err)
}

func TestMemorySigner_SignatureVerifies(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	signer := NewMemorySigner(priv)
	assert.Equal(t, AddressOfPub(pub), signer.Address())

	msg := []byte("scribe-session|test")
	sig, err := signer.Sign(msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, msg, sig))
}

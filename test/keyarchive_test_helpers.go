// Package test holds helpers shared by the package tests: freshly generated
// keys of every built-in algorithm and a discard logger.
package test

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-key-archive/pkg/keys"
)

// NewTestLogger creates a discard logger for tests.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewRSAKey generates a 2048-bit RSA key and wraps its public half.
func NewRSAKey(t *testing.T) keys.Key {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := keys.FromPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	return key
}

// NewECKey generates a P-256 key and wraps its public half.
func NewECKey(t *testing.T) keys.Key {
	t.Helper()
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	key, err := keys.FromPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	return key
}

// NewEd25519Key generates an Ed25519 key and wraps its public half.
func NewEd25519Key(t *testing.T) keys.Key {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := keys.FromPublicKey(pub)
	require.NoError(t, err)
	return key
}

// NewSSHKey generates an Ed25519 key and stores it in SSH wire format.
func NewSSHKey(t *testing.T) keys.Key {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	key, err := keys.Marshal(keys.SSH, pub)
	require.NoError(t, err)
	return key
}

// Package keys contains the public key record shared by the key store, the
// PEM codec and the archive backends, together with the table of supported
// key algorithms.
package keys

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// Key is an immutable public key record: an algorithm identifier plus the key
// material in the interchange encoding of that algorithm.
//
// Two keys are equal when their algorithm and material are equal; the parsed
// crypto.PublicKey is derived data and does not take part in equality.
type Key struct {
	algorithm string
	material  []byte
	public    crypto.PublicKey
}

// New parses material with the parser registered for algorithm.
func New(algorithm string, material []byte) (Key, error) {
	alg, err := Lookup(algorithm)
	if err != nil {
		return Key{}, err
	}
	if len(material) == 0 {
		return Key{}, fmt.Errorf("%w: empty %s key material", ErrMalformedKeyFormat, algorithm)
	}
	pub, err := alg.Parse(material)
	if err != nil {
		return Key{}, fmt.Errorf("%w: failed to parse %s key: %v", ErrMalformedKeyFormat, algorithm, err)
	}
	return Key{
		algorithm: algorithm,
		material:  bytes.Clone(material),
		public:    pub,
	}, nil
}

// FromPublicKey builds a Key from a parsed public key, picking the algorithm
// from the key type.
func FromPublicKey(pub crypto.PublicKey) (Key, error) {
	var algorithm string
	switch pub.(type) {
	case *rsa.PublicKey:
		algorithm = RSA
	case *ecdsa.PublicKey:
		algorithm = EC
	case ed25519.PublicKey:
		algorithm = Ed25519
	case nil:
		return Key{}, fmt.Errorf("%w: public key is required", ErrInvalidArgument)
	default:
		return Key{}, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, pub)
	}
	return Marshal(algorithm, pub)
}

// Marshal serializes pub with the algorithm's marshaller and returns the
// resulting Key.
func Marshal(algorithm string, pub crypto.PublicKey) (Key, error) {
	alg, err := Lookup(algorithm)
	if err != nil {
		return Key{}, err
	}
	material, err := alg.Marshal(pub)
	if err != nil {
		return Key{}, fmt.Errorf("failed to marshal %s key: %w", algorithm, err)
	}
	return New(algorithm, material)
}

// FromAuthorizedKey parses a single line in OpenSSH authorized_keys format
// into an SSH key.
func FromAuthorizedKey(line []byte) (Key, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrMalformedKeyFormat, err)
	}
	return New(SSH, pub.Marshal())
}

// Algorithm returns the algorithm identifier, e.g. "RSA".
func (k Key) Algorithm() string { return k.algorithm }

// Bytes returns a copy of the key material.
func (k Key) Bytes() []byte { return bytes.Clone(k.material) }

// Public returns the parsed public key.
func (k Key) Public() crypto.PublicKey { return k.public }

// IsZero reports whether k is the zero Key, i.e. no key at all.
func (k Key) IsZero() bool {
	return k.algorithm == "" && len(k.material) == 0
}

// Equal reports whether k and other carry the same algorithm and material.
func (k Key) Equal(other Key) bool {
	return k.algorithm == other.algorithm && bytes.Equal(k.material, other.material)
}

// String is used in logs; it never prints the material.
func (k Key) String() string {
	if k.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s(%d bytes)", k.algorithm, len(k.material))
}

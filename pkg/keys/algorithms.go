package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Algorithm identifiers known out of the box.
const (
	RSA     = "RSA"
	EC      = "EC"
	Ed25519 = "Ed25519"
	SSH     = "SSH"
)

// DefaultAlgorithm is assumed for archive entries that carry no algorithm
// metadata. Archives written by older tooling only ever stored RSA keys.
const DefaultAlgorithm = RSA

// Algorithm is the capability pair used to move a public key between its
// parsed form and its interchange encoding.
type Algorithm struct {
	Parse   func(material []byte) (crypto.PublicKey, error)
	Marshal func(pub crypto.PublicKey) ([]byte, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Algorithm{
		RSA:     pkixAlgorithm[*rsa.PublicKey](),
		EC:      pkixAlgorithm[*ecdsa.PublicKey](),
		Ed25519: pkixAlgorithm[ed25519.PublicKey](),
		SSH:     {Parse: parseSSH, Marshal: marshalSSH},
	}
)

// Register adds or replaces the algorithm stored under name.
func Register(name string, alg Algorithm) error {
	if name == "" || alg.Parse == nil || alg.Marshal == nil {
		return fmt.Errorf("%w: algorithm name, parser and marshaller are required", ErrInvalidArgument)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = alg
	return nil
}

// Lookup returns the algorithm registered under name.
func Lookup(name string) (Algorithm, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	alg, ok := registry[name]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
	return alg, nil
}

// Algorithms lists the registered algorithm names in sorted order.
func Algorithms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pkixAlgorithm handles X.509 SubjectPublicKeyInfo material restricted to a
// single Go key type.
func pkixAlgorithm[T crypto.PublicKey]() Algorithm {
	return Algorithm{
		Parse: func(material []byte) (crypto.PublicKey, error) {
			pub, err := x509.ParsePKIXPublicKey(material)
			if err != nil {
				return nil, err
			}
			typed, ok := pub.(T)
			if !ok {
				return nil, fmt.Errorf("unexpected key type %T", pub)
			}
			return typed, nil
		},
		Marshal: func(pub crypto.PublicKey) ([]byte, error) {
			if _, ok := pub.(T); !ok {
				return nil, fmt.Errorf("unexpected key type %T", pub)
			}
			return x509.MarshalPKIXPublicKey(pub)
		},
	}
}

func parseSSH(material []byte) (crypto.PublicKey, error) {
	pub, err := ssh.ParsePublicKey(material)
	if err != nil {
		return nil, err
	}
	cpk, ok := pub.(ssh.CryptoPublicKey)
	if !ok {
		return nil, fmt.Errorf("ssh key type %s has no crypto public key", pub.Type())
	}
	return cpk.CryptoPublicKey(), nil
}

func marshalSSH(pub crypto.PublicKey) ([]byte, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return sshPub.Marshal(), nil
}

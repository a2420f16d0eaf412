// Package jwks converts between a key store and a JSON Web Key Set. The alias
// of each key becomes its "kid".
package jwks

import (
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/tinywideclouds/go-key-archive/pkg/keys"
	"github.com/tinywideclouds/go-key-archive/pkg/keystore"
)

// FromStore builds a JWK Set from a snapshot of the store.
func FromStore(store *keystore.Store) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, entry := range store.Snapshot() {
		key, err := jwk.FromRaw(entry.Key.Public())
		if err != nil {
			return nil, fmt.Errorf("failed to convert key %q to JWK: %w", entry.Alias, err)
		}
		if err := key.Set(jwk.KeyIDKey, entry.Alias); err != nil {
			return nil, fmt.Errorf("failed to set kid for %q: %w", entry.Alias, err)
		}
		if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
			return nil, fmt.Errorf("failed to set use for %q: %w", entry.Alias, err)
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("failed to add key %q to set: %w", entry.Alias, err)
		}
	}
	return set, nil
}

// Marshal renders the store as indented JWK Set JSON.
func Marshal(store *keystore.Store) ([]byte, error) {
	set, err := FromStore(store)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JWK set: %w", err)
	}
	return data, nil
}

// Import parses a JWK Set and adds the public half of every key to the store
// under its kid. Keys come back in their PKIX form, so an SSH key exported
// earlier is re-imported under its underlying algorithm. It returns the
// number of keys read from the set.
func Import(store *keystore.Store, data []byte) (int, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to parse JWK set: %v", keys.ErrMalformedKeyFormat, err)
	}

	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		alias := key.KeyID()
		if alias == "" {
			return i, fmt.Errorf("%w: JWK at index %d has no kid", keys.ErrInvalidArgument, i)
		}

		pub, err := key.PublicKey()
		if err != nil {
			return i, fmt.Errorf("%w: key %q has no public form: %v", keys.ErrUnsupportedAlgorithm, alias, err)
		}
		var raw any
		if err := pub.Raw(&raw); err != nil {
			return i, fmt.Errorf("%w: key %q: %v", keys.ErrMalformedKeyFormat, alias, err)
		}
		k, err := keys.FromPublicKey(raw)
		if err != nil {
			return i, fmt.Errorf("key %q: %w", alias, err)
		}
		if err := store.Add(alias, k); err != nil {
			return i, err
		}
	}
	return set.Len(), nil
}

package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/AmirulAndalib/ockam/internal/keystore"
)

// Identifier is a stable name for an identity, derived from its root public
// key. Two identities are the same iff their identifiers are equal.
type Identifier string

func (i Identifier) String() string {
	return string(i)
}

// IdentifierFor derives the identifier from a root public key.
func IdentifierFor(pub ed25519.PublicKey) Identifier {
	sum := sha256.Sum256(pub)
	return Identifier(hex.EncodeToString(sum[:]))
}

// Identity is the public half of an identity: the root-of-trust against
// which purpose keys are verified.
type Identity struct {
	Identifier Identifier
	PublicKey  ed25519.PublicKey
}

// NewIdentity wraps a root public key.
func NewIdentity(pub ed25519.PublicKey) Identity {
	return Identity{
		Identifier: IdentifierFor(pub),
		PublicKey:  append(ed25519.PublicKey(nil), pub...),
	}
}

// SecretIdentity also holds the root private key and can issue purpose keys.
type SecretIdentity struct {
	Identity
	PrivateKey ed25519.PrivateKey
}

const rootKeySecretID = "root_identity"

// Ensure loads the node's root identity from the keystore or generates and
// persists a fresh one on first start.
func Ensure(ctx context.Context, ks keystore.KeyBackend) (*SecretIdentity, error) {
	if ks == nil {
		return nil, errors.New("keystore is required for node identity")
	}

	raw, err := ks.LoadSecret(ctx, rootKeySecretID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load root identity: %w", err)
		}
		_, priv, genErr := ed25519.GenerateKey(nil)
		if genErr != nil {
			return nil, fmt.Errorf("generate root identity: %w", genErr)
		}
		if storeErr := ks.StoreSecret(ctx, rootKeySecretID, priv); storeErr != nil {
			return nil, fmt.Errorf("store root identity: %w", storeErr)
		}
		return secretIdentityFrom(priv), nil
	}
	defer zeroBytes(raw)

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("root identity secret has invalid size %d", len(raw))
	}
	return secretIdentityFrom(ed25519.PrivateKey(append([]byte(nil), raw...))), nil
}

func secretIdentityFrom(priv ed25519.PrivateKey) *SecretIdentity {
	pub := priv.Public().(ed25519.PublicKey)
	return &SecretIdentity{
		Identity:   NewIdentity(pub),
		PrivateKey: priv,
	}
}

func zeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

package identity

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Purpose tags the single cryptographic use a purpose key is issued for.
// Purpose key material is always distinct from the root key, so compromising
// one purpose does not compromise root trust.
type Purpose string

// PurposeSecureChannel marks keys used for secure-channel key exchange.
const PurposeSecureChannel Purpose = "secure-channel"

var (
	// ErrSignatureInvalid means the issuer signature does not verify.
	ErrSignatureInvalid = errors.New("purpose key signature invalid")
	// ErrExpired means the validity window has passed.
	ErrExpired = errors.New("purpose key expired")
	// ErrPurposeMismatch means the key was issued for a different purpose.
	ErrPurposeMismatch = errors.New("purpose key purpose mismatch")
	// ErrIdentityMismatch means the key names a different issuing identity.
	ErrIdentityMismatch = errors.New("purpose key identity mismatch")
)

// PurposeKey binds a public key to (identity, purpose, validity window) with
// an issuer signature by the identity's root key. Immutable after creation.
type PurposeKey struct {
	Identifier Identifier `json:"identifier"`
	Purpose    Purpose    `json:"purpose"`
	PublicKey  []byte     `json:"public_key"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Signature  []byte     `json:"signature"`
}

// PurposeKeyPair is a purpose key together with its private half, held only
// by the issuing identity.
type PurposeKeyPair struct {
	PurposeKey
	PrivateKey ed25519.PrivateKey `json:"-"`
}

// CreatePurposeKey issues a fresh purpose key signed by the identity's root
// key. The purpose key material is independently generated, never derived
// from the root key.
func CreatePurposeKey(issuer *SecretIdentity, purpose Purpose, ttl time.Duration) (*PurposeKeyPair, error) {
	if issuer == nil || len(issuer.PrivateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("issuer root key unavailable")
	}
	if purpose == "" {
		return nil, errors.New("purpose required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate purpose key: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	key := PurposeKey{
		Identifier: issuer.Identifier,
		Purpose:    purpose,
		PublicKey:  pub,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	key.Signature = ed25519.Sign(issuer.PrivateKey, key.attestationPayload())

	return &PurposeKeyPair{PurposeKey: key, PrivateKey: priv}, nil
}

// Verify checks the purpose key against the issuing identity's root of
// trust for the expected purpose. An unverifiable purpose key is fatal for
// the handshake attempt consuming it.
func (k *PurposeKey) Verify(against Identity, purpose Purpose, now time.Time) error {
	if k.Identifier != against.Identifier {
		return fmt.Errorf("key issued by %s, expected %s: %w", k.Identifier, against.Identifier, ErrIdentityMismatch)
	}
	if k.Purpose != purpose {
		return fmt.Errorf("key issued for %q, expected %q: %w", k.Purpose, purpose, ErrPurposeMismatch)
	}
	if len(k.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes: %w", ed25519.PublicKeySize, ErrSignatureInvalid)
	}
	if !ed25519.Verify(against.PublicKey, k.attestationPayload(), k.Signature) {
		return ErrSignatureInvalid
	}
	if !k.ExpiresAt.IsZero() && now.After(k.ExpiresAt) {
		return fmt.Errorf("expired at %s: %w", k.ExpiresAt.Format(time.RFC3339), ErrExpired)
	}
	return nil
}

// attestationPayload is the deterministic byte encoding the issuer signs.
func (k *PurposeKey) attestationPayload() []byte {
	var buf bytes.Buffer
	writeField(&buf, []byte(k.Identifier))
	writeField(&buf, []byte(k.Purpose))
	writeField(&buf, k.PublicKey)
	binary.Write(&buf, binary.BigEndian, k.CreatedAt.Unix())
	binary.Write(&buf, binary.BigEndian, k.ExpiresAt.Unix())
	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, field []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(field)))
	buf.Write(field)
}

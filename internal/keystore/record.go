package keystore

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"
)

const (
	purposeKeyRecordVersion = 1
	maxSecretBytes          = 16 * 1024
)

var (
	ErrInvalidPurposeKey = errors.New("invalid purpose key record")
)

// PurposeKeyRecord stores a purpose key pair and its attestation metadata in
// a sealed keystore record.
type PurposeKeyRecord struct {
	Version    int       `json:"version"`
	Identifier string    `json:"identifier"`
	Purpose    string    `json:"purpose"`
	PublicKey  []byte    `json:"public_key"`
	PrivateKey []byte    `json:"private_key"`
	Signature  []byte    `json:"signature"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Clone returns a deep copy of the record to avoid exposing internal buffers.
func (r PurposeKeyRecord) Clone() PurposeKeyRecord {
	out := r
	out.PublicKey = cloneBytes(r.PublicKey)
	out.PrivateKey = cloneBytes(r.PrivateKey)
	out.Signature = cloneBytes(r.Signature)
	return out
}

// Zero overwrites sensitive fields in-place.
func (r PurposeKeyRecord) Zero() {
	zeroBytes(r.PrivateKey)
}

// Key is the map key the backend stores the record under.
func (r PurposeKeyRecord) Key() string {
	return purposeKeyID(r.Identifier, r.Purpose)
}

func purposeKeyID(identifier, purpose string) string {
	return identifier + "/" + purpose
}

func normalizePurposeKey(r PurposeKeyRecord, now time.Time) (PurposeKeyRecord, error) {
	if r.Identifier == "" {
		return PurposeKeyRecord{}, fmt.Errorf("identifier required: %w", ErrInvalidPurposeKey)
	}
	if r.Purpose == "" {
		return PurposeKeyRecord{}, fmt.Errorf("purpose required: %w", ErrInvalidPurposeKey)
	}
	if len(r.PublicKey) != ed25519.PublicKeySize {
		return PurposeKeyRecord{}, fmt.Errorf("public key must be %d bytes: %w", ed25519.PublicKeySize, ErrInvalidPurposeKey)
	}
	if len(r.PrivateKey) != 0 && len(r.PrivateKey) != ed25519.PrivateKeySize {
		return PurposeKeyRecord{}, fmt.Errorf("private key must be %d bytes: %w", ed25519.PrivateKeySize, ErrInvalidPurposeKey)
	}
	if len(r.Signature) == 0 {
		return PurposeKeyRecord{}, fmt.Errorf("issuer signature required: %w", ErrInvalidPurposeKey)
	}
	if !r.ExpiresAt.IsZero() && !r.CreatedAt.IsZero() && r.ExpiresAt.Before(r.CreatedAt) {
		return PurposeKeyRecord{}, fmt.Errorf("expiry precedes creation: %w", ErrInvalidPurposeKey)
	}

	out := r.Clone()
	if out.Version == 0 {
		out.Version = purposeKeyRecordVersion
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now.UTC()
	}
	return out, nil
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	return append([]byte(nil), in...)
}

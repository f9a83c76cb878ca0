package identity

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/AmirulAndalib/ockam/internal/keystore"
)

// ErrKeyUnavailable is surfaced when the storage collaborator cannot produce
// the requested key, either because it does not exist or the backend failed.
var ErrKeyUnavailable = errors.New("key unavailable")

// PurposeKeyStore persists purpose keys between process runs.
type PurposeKeyStore interface {
	StorePurposeKey(ctx context.Context, pair *PurposeKeyPair) error
	LoadPurposeKey(ctx context.Context, identifier Identifier, purpose Purpose) (*PurposeKeyPair, error)
}

// KeystorePurposeKeys stores purpose keys as sealed keystore records.
type KeystorePurposeKeys struct {
	backend keystore.KeyBackend
}

// NewKeystorePurposeKeys wires the keystore collaborator.
func NewKeystorePurposeKeys(backend keystore.KeyBackend) *KeystorePurposeKeys {
	return &KeystorePurposeKeys{backend: backend}
}

// StorePurposeKey writes the pair, including its private half, to the keystore.
func (s *KeystorePurposeKeys) StorePurposeKey(ctx context.Context, pair *PurposeKeyPair) error {
	if pair == nil {
		return errors.New("purpose key pair required")
	}
	record := keystore.PurposeKeyRecord{
		Identifier: string(pair.Identifier),
		Purpose:    string(pair.Purpose),
		PublicKey:  append([]byte(nil), pair.PublicKey...),
		PrivateKey: append([]byte(nil), pair.PrivateKey...),
		Signature:  append([]byte(nil), pair.Signature...),
		CreatedAt:  pair.CreatedAt,
		ExpiresAt:  pair.ExpiresAt,
	}
	if err := s.backend.StorePurposeKey(ctx, record); err != nil {
		return fmt.Errorf("store purpose key: %w", err)
	}
	return nil
}

// LoadPurposeKey fetches a previously stored pair. A missing or failing
// backend surfaces as ErrKeyUnavailable.
func (s *KeystorePurposeKeys) LoadPurposeKey(ctx context.Context, identifier Identifier, purpose Purpose) (*PurposeKeyPair, error) {
	record, err := s.backend.LoadPurposeKey(ctx, string(identifier), string(purpose))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no purpose key for %s/%s: %w", identifier, purpose, ErrKeyUnavailable)
		}
		return nil, fmt.Errorf("load purpose key: %w (%v)", ErrKeyUnavailable, err)
	}

	return &PurposeKeyPair{
		PurposeKey: PurposeKey{
			Identifier: Identifier(record.Identifier),
			Purpose:    Purpose(record.Purpose),
			PublicKey:  append([]byte(nil), record.PublicKey...),
			CreatedAt:  record.CreatedAt,
			ExpiresAt:  record.ExpiresAt,
			Signature:  append([]byte(nil), record.Signature...),
		},
		PrivateKey: append([]byte(nil), record.PrivateKey...),
	}, nil
}

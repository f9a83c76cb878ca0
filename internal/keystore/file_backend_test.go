package keystore

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testBackend(t *testing.T) *FileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keystore.json")
	b := NewFileBackend(path)
	if err := b.Initialize(context.Background(), "passphrase"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return b
}

func testRecord(t *testing.T) PurposeKeyRecord {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	return PurposeKeyRecord{
		Identifier: "abc123",
		Purpose:    "secure-channel",
		PublicKey:  pub,
		PrivateKey: priv,
		Signature:  bytes.Repeat([]byte{7}, ed25519.SignatureSize),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
}

func TestInitializeAndUnlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)

	if err := b.StoreSecret(ctx, "root_identity", []byte("super-secret")); err != nil {
		t.Fatalf("store secret: %v", err)
	}

	reopened := NewFileBackend(b.Path())
	if err := reopened.Unlock(ctx, "passphrase"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	secret, err := reopened.LoadSecret(ctx, "root_identity")
	if err != nil {
		t.Fatalf("load secret: %v", err)
	}
	if !bytes.Equal(secret, []byte("super-secret")) {
		t.Fatalf("unexpected secret %q", secret)
	}
}

func TestUnlockWrongPassphrase(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)

	reopened := NewFileBackend(b.Path())
	if err := reopened.Unlock(ctx, "wrong"); !errors.Is(err, ErrInvalidPass) {
		t.Fatalf("expected ErrInvalidPass, got %v", err)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	if err := b.Initialize(ctx, "passphrase"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUnlockMissingFile(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "missing.json"))
	if err := b.Unlock(context.Background(), "passphrase"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestLockedOperationsFail(t *testing.T) {
	ctx := context.Background()
	b := NewFileBackend(filepath.Join(t.TempDir(), "keystore.json"))

	if err := b.StoreSecret(ctx, "id", []byte("x")); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked on store, got %v", err)
	}
	if _, err := b.LoadSecret(ctx, "id"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked on load, got %v", err)
	}
	if _, err := b.ListPurposeKeys(ctx); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked on list, got %v", err)
	}
}

func TestSecretValidation(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)

	if err := b.StoreSecret(ctx, "", []byte("x")); !errors.Is(err, ErrInvalidSecretID) {
		t.Fatalf("expected ErrInvalidSecretID, got %v", err)
	}
	if err := b.StoreSecret(ctx, "id", nil); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("expected ErrInvalidSecret, got %v", err)
	}
	if err := b.StoreSecret(ctx, "id", bytes.Repeat([]byte{1}, maxSecretBytes+1)); !errors.Is(err, ErrSecretTooBig) {
		t.Fatalf("expected ErrSecretTooBig, got %v", err)
	}
}

func TestDeleteSecret(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)

	if err := b.StoreSecret(ctx, "id", []byte("x")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := b.DeleteSecret(ctx, "id"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.LoadSecret(ctx, "id"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestPurposeKeyRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)
	record := testRecord(t)

	if err := b.StorePurposeKey(ctx, record); err != nil {
		t.Fatalf("store purpose key: %v", err)
	}

	reopened := NewFileBackend(b.Path())
	if err := reopened.Unlock(ctx, "passphrase"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	loaded, err := reopened.LoadPurposeKey(ctx, record.Identifier, record.Purpose)
	if err != nil {
		t.Fatalf("load purpose key: %v", err)
	}
	if !bytes.Equal(loaded.PublicKey, record.PublicKey) || !bytes.Equal(loaded.PrivateKey, record.PrivateKey) {
		t.Fatal("purpose key material did not survive the round trip")
	}
	if !loaded.ExpiresAt.Equal(record.ExpiresAt) {
		t.Fatalf("expiry mismatch: got %s want %s", loaded.ExpiresAt, record.ExpiresAt)
	}

	keys, err := reopened.ListPurposeKeys(ctx)
	if err != nil {
		t.Fatalf("list purpose keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != record.Key() {
		t.Fatalf("unexpected purpose key list %v", keys)
	}

	if err := reopened.DeletePurposeKey(ctx, record.Identifier, record.Purpose); err != nil {
		t.Fatalf("delete purpose key: %v", err)
	}
	if _, err := reopened.LoadPurposeKey(ctx, record.Identifier, record.Purpose); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist after delete, got %v", err)
	}
}

func TestPurposeKeyValidation(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)

	record := testRecord(t)
	record.Identifier = ""
	if err := b.StorePurposeKey(ctx, record); !errors.Is(err, ErrInvalidPurposeKey) {
		t.Fatalf("expected ErrInvalidPurposeKey for missing identifier, got %v", err)
	}

	record = testRecord(t)
	record.PublicKey = record.PublicKey[:16]
	if err := b.StorePurposeKey(ctx, record); !errors.Is(err, ErrInvalidPurposeKey) {
		t.Fatalf("expected ErrInvalidPurposeKey for short public key, got %v", err)
	}

	record = testRecord(t)
	record.ExpiresAt = record.CreatedAt.Add(-time.Hour)
	if err := b.StorePurposeKey(ctx, record); !errors.Is(err, ErrInvalidPurposeKey) {
		t.Fatalf("expected ErrInvalidPurposeKey for inverted validity window, got %v", err)
	}
}

func TestLoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	b := testBackend(t)

	if err := b.StoreSecret(ctx, "id", []byte("stable")); err != nil {
		t.Fatalf("store: %v", err)
	}
	first, err := b.LoadSecret(ctx, "id")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	first[0] = 'X'
	second, err := b.LoadSecret(ctx, "id")
	if err != nil {
		t.Fatalf("load again: %v", err)
	}
	if !bytes.Equal(second, []byte("stable")) {
		t.Fatal("mutating a loaded secret must not affect the stored value")
	}
}

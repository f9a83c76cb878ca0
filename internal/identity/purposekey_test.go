package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AmirulAndalib/ockam/internal/keystore"
)

func newSecretIdentity(t *testing.T) *SecretIdentity {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	return secretIdentityFrom(priv)
}

func TestCreateAndVerifyPurposeKey(t *testing.T) {
	issuer := newSecretIdentity(t)

	pair, err := CreatePurposeKey(issuer, PurposeSecureChannel, time.Hour)
	if err != nil {
		t.Fatalf("create purpose key: %v", err)
	}
	if string(pair.PublicKey) == string(issuer.PublicKey) {
		t.Fatal("purpose key must not reuse root key material")
	}
	if err := pair.Verify(issuer.Identity, PurposeSecureChannel, time.Now()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedKey(t *testing.T) {
	issuer := newSecretIdentity(t)
	pair, err := CreatePurposeKey(issuer, PurposeSecureChannel, time.Hour)
	if err != nil {
		t.Fatalf("create purpose key: %v", err)
	}

	tampered := pair.PurposeKey
	tampered.PublicKey = append([]byte(nil), tampered.PublicKey...)
	tampered.PublicKey[0] ^= 1
	if err := tampered.Verify(issuer.Identity, PurposeSecureChannel, time.Now()); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	issuer := newSecretIdentity(t)
	other := newSecretIdentity(t)
	pair, err := CreatePurposeKey(issuer, PurposeSecureChannel, time.Hour)
	if err != nil {
		t.Fatalf("create purpose key: %v", err)
	}
	if err := pair.Verify(other.Identity, PurposeSecureChannel, time.Now()); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}
}

func TestVerifyRejectsPurposeMismatch(t *testing.T) {
	issuer := newSecretIdentity(t)
	pair, err := CreatePurposeKey(issuer, Purpose("credential-signing"), time.Hour)
	if err != nil {
		t.Fatalf("create purpose key: %v", err)
	}
	if err := pair.Verify(issuer.Identity, PurposeSecureChannel, time.Now()); !errors.Is(err, ErrPurposeMismatch) {
		t.Fatalf("expected ErrPurposeMismatch, got %v", err)
	}
}

func TestVerifyRejectsExpiredKey(t *testing.T) {
	issuer := newSecretIdentity(t)
	pair, err := CreatePurposeKey(issuer, PurposeSecureChannel, time.Minute)
	if err != nil {
		t.Fatalf("create purpose key: %v", err)
	}
	later := time.Now().Add(2 * time.Minute)
	if err := pair.Verify(issuer.Identity, PurposeSecureChannel, later); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestEnsureIdentityPersists(t *testing.T) {
	ctx := context.Background()
	backend := keystore.NewFileBackend(filepath.Join(t.TempDir(), "keystore.json"))
	if err := backend.Initialize(ctx, "passphrase"); err != nil {
		t.Fatalf("initialize keystore: %v", err)
	}

	first, err := Ensure(ctx, backend)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := Ensure(ctx, backend)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.Identifier != second.Identifier {
		t.Fatalf("identity must be stable across restarts: %s vs %s", first.Identifier, second.Identifier)
	}
	if first.Identifier != IdentifierFor(first.PublicKey) {
		t.Fatal("identifier must derive from the root public key")
	}
}

func TestPurposeKeyStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := keystore.NewFileBackend(filepath.Join(t.TempDir(), "keystore.json"))
	if err := backend.Initialize(ctx, "passphrase"); err != nil {
		t.Fatalf("initialize keystore: %v", err)
	}

	issuer := newSecretIdentity(t)
	pair, err := CreatePurposeKey(issuer, PurposeSecureChannel, time.Hour)
	if err != nil {
		t.Fatalf("create purpose key: %v", err)
	}

	store := NewKeystorePurposeKeys(backend)
	if err := store.StorePurposeKey(ctx, pair); err != nil {
		t.Fatalf("store: %v", err)
	}

	loaded, err := store.LoadPurposeKey(ctx, issuer.Identifier, PurposeSecureChannel)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := loaded.Verify(issuer.Identity, PurposeSecureChannel, time.Now()); err != nil {
		t.Fatalf("loaded key must still verify: %v", err)
	}
	if string(loaded.PrivateKey) != string(pair.PrivateKey) {
		t.Fatal("private half did not survive the round trip")
	}

	if _, err := store.LoadPurposeKey(ctx, "unknown", PurposeSecureChannel); !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
}

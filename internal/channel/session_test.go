package channel

import (
	"errors"
	"math"
	"testing"
)

func establishedPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	initSecrets, respSecrets := runHandshake(t)
	return NewSession(initSecrets), NewSession(respSecrets)
}

func TestSessionRoundTripBothDirections(t *testing.T) {
	a, b := establishedPair(t)

	for i, msg := range []string{"first", "second", "third"} {
		frame, err := a.Encrypt([]byte(msg))
		if err != nil {
			t.Fatalf("encrypt %d: %v", i, err)
		}
		plaintext, err := b.Decrypt(frame)
		if err != nil {
			t.Fatalf("decrypt %d: %v", i, err)
		}
		if string(plaintext) != msg {
			t.Fatalf("message %d mismatch: %q", i, plaintext)
		}
	}

	// Reverse direction runs on an independent key and counter.
	frame, err := b.Encrypt([]byte("reply"))
	if err != nil {
		t.Fatalf("reverse encrypt: %v", err)
	}
	plaintext, err := a.Decrypt(frame)
	if err != nil {
		t.Fatalf("reverse decrypt: %v", err)
	}
	if string(plaintext) != "reply" {
		t.Fatalf("reverse mismatch: %q", plaintext)
	}
	if a.SendNonce() != 3 || b.SendNonce() != 1 {
		t.Fatalf("send nonces = %d / %d, want 3 / 1", a.SendNonce(), b.SendNonce())
	}
}

func TestSessionReplayClosesSession(t *testing.T) {
	a, b := establishedPair(t)

	frame1, err := a.Encrypt([]byte("one"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := b.Decrypt(frame1); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	frame2, err := a.Encrypt([]byte("two"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := b.Decrypt(frame1); !errors.Is(err, ErrReplayOrOutOfOrder) {
		t.Fatalf("replayed frame: got %v, want ErrReplayOrOutOfOrder", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after replay = %s, want closed", b.State())
	}
	if _, err := b.Decrypt(frame2); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("decrypt after close: got %v, want ErrSessionClosed", err)
	}
	if !errors.Is(b.CloseReason(), ErrReplayOrOutOfOrder) {
		t.Fatalf("close reason = %v", b.CloseReason())
	}
}

func TestSessionOutOfOrderClosesSession(t *testing.T) {
	a, b := establishedPair(t)

	if _, err := a.Encrypt([]byte("one")); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	frame2, err := a.Encrypt([]byte("two"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Frame two arrives before frame one.
	if _, err := b.Decrypt(frame2); !errors.Is(err, ErrReplayOrOutOfOrder) {
		t.Fatalf("skipped frame: got %v, want ErrReplayOrOutOfOrder", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after gap = %s, want closed", b.State())
	}
}

func TestSessionTamperedCiphertextClosesSession(t *testing.T) {
	a, b := establishedPair(t)

	frame, err := a.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	frame[len(frame)-1] ^= 0x01

	if _, err := b.Decrypt(frame); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("tampered frame: got %v, want ErrDecryptFailed", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after tamper = %s, want closed", b.State())
	}
}

func TestSessionIsolation(t *testing.T) {
	a1, b1 := establishedPair(t)
	_, b2 := establishedPair(t)

	frame, err := a1.Encrypt([]byte("for the first channel"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := b2.Decrypt(frame); err == nil {
		t.Fatal("frame from another session must not decrypt")
	}
	// The intended receiver is unaffected by the cross-delivery attempt.
	plaintext, err := b1.Decrypt(frame)
	if err != nil {
		t.Fatalf("intended decrypt: %v", err)
	}
	if string(plaintext) != "for the first channel" {
		t.Fatalf("plaintext mismatch: %q", plaintext)
	}
}

func TestSessionNonceOverflowIsTerminal(t *testing.T) {
	a, _ := establishedPair(t)
	a.sendNonce = NewNonce(math.MaxUint64)

	if _, err := a.Encrypt([]byte("one too many")); !errors.Is(err, ErrNonceOverflow) {
		t.Fatalf("overflow: got %v, want ErrNonceOverflow", err)
	}
	if a.State() != StateClosed {
		t.Fatalf("state after overflow = %s, want closed", a.State())
	}
	if _, err := a.Encrypt([]byte("again")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("encrypt after overflow: got %v, want ErrSessionClosed", err)
	}
}

func TestSessionCloseStopsTraffic(t *testing.T) {
	a, b := establishedPair(t)

	a.Close()
	if a.State() != StateClosed {
		t.Fatalf("state after close = %s", a.State())
	}
	if _, err := a.Encrypt([]byte("late")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("encrypt after close: got %v, want ErrSessionClosed", err)
	}
	if _, err := a.Decrypt([]byte("12345678garbage")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("decrypt after close: got %v, want ErrSessionClosed", err)
	}
	// The peer's session is independent and stays usable.
	if _, err := b.Encrypt([]byte("still fine")); err != nil {
		t.Fatalf("peer encrypt: %v", err)
	}
}

func TestSessionRejectsShortFrame(t *testing.T) {
	_, b := establishedPair(t)
	if _, err := b.Decrypt([]byte("short")); !errors.Is(err, ErrFrameTooShort) {
		t.Fatalf("short frame: got %v, want ErrFrameTooShort", err)
	}
}

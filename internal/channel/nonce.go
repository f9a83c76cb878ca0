package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// WireNonceLen is the 8-byte big-endian form carried in handshake and
	// data frames.
	WireNonceLen = 8
	// AEADNonceLen is the 12-byte form the AEAD construction consumes.
	AEADNonceLen = 12
)

var (
	// ErrNonceOverflow means the counter is exhausted; the key must be
	// retired, never wrapped.
	ErrNonceOverflow = errors.New("nonce overflow")
	// ErrInvalidNonce means a byte slice could not be decoded as a nonce.
	ErrInvalidNonce = errors.New("invalid nonce")
)

// Nonce is a strictly increasing 64-bit counter, one per (key, direction).
// A value is used for at most one encryption: reuse under a fixed key
// collapses AEAD security, so the type exposes no way to set an arbitrary
// value outside the wire-decode constructors used at channel resumption.
type Nonce struct {
	value uint64
}

// MaxNonce is the largest representable nonce.
var MaxNonce = Nonce{value: math.MaxUint64}

// NewNonce builds a nonce with the given value.
func NewNonce(value uint64) Nonce {
	return Nonce{value: value}
}

// Value returns the counter value.
func (n Nonce) Value() uint64 {
	return n.value
}

// Increment advances the counter by exactly 1. When the counter already
// holds the maximum value it fails with ErrNonceOverflow and leaves the
// value unchanged; the condition is terminal for the owning session.
func (n *Nonce) Increment() error {
	if n.value == MaxNonce.value {
		return ErrNonceOverflow
	}
	n.value++
	return nil
}

// WireBytes is the 8-byte big-endian encoding sent to the peer.
func (n Nonce) WireBytes() [WireNonceLen]byte {
	var out [WireNonceLen]byte
	binary.BigEndian.PutUint64(out[:], n.value)
	return out
}

// AEADBytes is the 12-byte encoding used as the AEAD nonce input: the wire
// form right-aligned into a zero-padded buffer.
func (n Nonce) AEADBytes() [AEADNonceLen]byte {
	var out [AEADNonceLen]byte
	wire := n.WireBytes()
	copy(out[AEADNonceLen-WireNonceLen:], wire[:])
	return out
}

// NonceFromWire decodes the fixed 8-byte wire form.
func NonceFromWire(wire [WireNonceLen]byte) Nonce {
	return Nonce{value: binary.BigEndian.Uint64(wire[:])}
}

// ParseNonce decodes an arbitrary byte slice, failing unless it is exactly
// 8 bytes.
func ParseNonce(raw []byte) (Nonce, error) {
	if len(raw) != WireNonceLen {
		return Nonce{}, fmt.Errorf("nonce must be %d bytes, got %d: %w", WireNonceLen, len(raw), ErrInvalidNonce)
	}
	var wire [WireNonceLen]byte
	copy(wire[:], raw)
	return NonceFromWire(wire), nil
}

func (n Nonce) String() string {
	return fmt.Sprintf("%d", n.value)
}

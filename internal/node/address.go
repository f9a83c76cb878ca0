package node

import (
	"crypto/rand"
	"encoding/hex"
)

// Address names a routable endpoint within a node. Addresses are opaque,
// immutable once assigned, and unique for the lifetime of the owning worker.
type Address string

func (a Address) String() string {
	return string(a)
}

// RandomAddress allocates a fresh address from 16 bytes of randomness. The
// router additionally rejects registration collisions, so uniqueness does not
// rest on randomness alone.
func RandomAddress() Address {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		// The platform CSPRNG is gone; nothing sensible can continue.
		panic("address randomness unavailable: " + err.Error())
	}
	return Address(hex.EncodeToString(raw[:]))
}

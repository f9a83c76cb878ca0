package node

// RelayMessage is the transient per-hop envelope moved between mailboxes.
// It is created for a single hop and never persisted.
type RelayMessage struct {
	source      Address
	destination Address
	payload     []byte
}

// NewRelayMessage builds an envelope for one hop.
func NewRelayMessage(source, destination Address, payload []byte) *RelayMessage {
	return &RelayMessage{
		source:      source,
		destination: destination,
		payload:     payload,
	}
}

// Source is the sending address.
func (m *RelayMessage) Source() Address {
	return m.source
}

// Destination is the receiving address.
func (m *RelayMessage) Destination() Address {
	return m.destination
}

// Payload returns the opaque message bytes.
func (m *RelayMessage) Payload() []byte {
	return m.payload
}

package node

// Mailbox binds an address to the access controls guarding it. The incoming
// control gates deliveries into the mailbox; the outgoing control gates what
// the owning worker may send from it.
type Mailbox struct {
	address  Address
	incoming AccessControl
	outgoing AccessControl
}

// NewMailbox builds a mailbox. Nil controls default to DenyAll, keeping the
// failure mode closed.
func NewMailbox(address Address, incoming, outgoing AccessControl) Mailbox {
	if incoming == nil {
		incoming = DenyAll()
	}
	if outgoing == nil {
		outgoing = DenyAll()
	}
	return Mailbox{address: address, incoming: incoming, outgoing: outgoing}
}

// Address returns the mailbox address.
func (m Mailbox) Address() Address {
	return m.address
}

// IncomingAccessControl returns the delivery-side policy.
func (m Mailbox) IncomingAccessControl() AccessControl {
	return m.incoming
}

// OutgoingAccessControl returns the send-side policy.
func (m Mailbox) OutgoingAccessControl() AccessControl {
	return m.outgoing
}

// Mailboxes is the immutable set of mailboxes owned by one worker: exactly
// one primary plus zero or more additional mailboxes. The set is fixed at
// spawn; changing it requires tearing the worker down and respawning.
type Mailboxes struct {
	primary    Mailbox
	additional []Mailbox
}

// NewMailboxes groups a primary mailbox with additional ones.
func NewMailboxes(primary Mailbox, additional ...Mailbox) *Mailboxes {
	return &Mailboxes{
		primary:    primary,
		additional: append([]Mailbox(nil), additional...),
	}
}

// PrimaryMailboxes is shorthand for a single fully open mailbox, used by
// application workers that rely on upstream controls.
func PrimaryMailboxes(address Address) *Mailboxes {
	return NewMailboxes(NewMailbox(address, AllowAll(), AllowAll()))
}

// Primary returns the worker's main mailbox.
func (m *Mailboxes) Primary() Mailbox {
	return m.primary
}

// PrimaryAddress returns the address of the primary mailbox.
func (m *Mailboxes) PrimaryAddress() Address {
	return m.primary.address
}

// Additional returns the non-primary mailboxes.
func (m *Mailboxes) Additional() []Mailbox {
	return m.additional
}

// Find locates the mailbox with the given address within the set.
func (m *Mailboxes) Find(address Address) (Mailbox, bool) {
	if m.primary.address == address {
		return m.primary, true
	}
	for _, mb := range m.additional {
		if mb.address == address {
			return mb, true
		}
	}
	return Mailbox{}, false
}

// Addresses lists every address in the set, primary first.
func (m *Mailboxes) Addresses() []Address {
	out := make([]Address, 0, 1+len(m.additional))
	out = append(out, m.primary.address)
	for _, mb := range m.additional {
		out = append(out, mb.address)
	}
	return out
}

package node

import "testing"

func TestAccessControlPredicates(t *testing.T) {
	msg := NewRelayMessage("alice", "bob", nil)

	if !AllowAll().IsAuthorized(msg) {
		t.Fatal("AllowAll must authorize")
	}
	if DenyAll().IsAuthorized(msg) {
		t.Fatal("DenyAll must reject")
	}
	if !AllowSourceAddresses("alice", "carol").IsAuthorized(msg) {
		t.Fatal("listed source must be authorized")
	}
	if AllowSourceAddresses("carol").IsAuthorized(msg) {
		t.Fatal("unlisted source must be rejected")
	}
	if !AllowDestinationAddresses("bob").IsAuthorized(msg) {
		t.Fatal("listed destination must be authorized")
	}
	if AllowDestinationAddresses("dave").IsAuthorized(msg) {
		t.Fatal("unlisted destination must be rejected")
	}
}

func TestAllOfIsConjunctive(t *testing.T) {
	msg := NewRelayMessage("alice", "bob", nil)

	if !AllOf(AllowAll(), AllowSourceAddresses("alice")).IsAuthorized(msg) {
		t.Fatal("all-allowing conjunction must authorize")
	}
	if AllOf(AllowAll(), DenyAll()).IsAuthorized(msg) {
		t.Fatal("one denying control must reject the message")
	}
	if !AllOf().IsAuthorized(msg) {
		t.Fatal("empty conjunction authorizes")
	}
}

func TestNilControlsDefaultClosed(t *testing.T) {
	mb := NewMailbox("addr", nil, nil)
	msg := NewRelayMessage("anyone", "addr", nil)

	if mb.IncomingAccessControl().IsAuthorized(msg) {
		t.Fatal("nil incoming control must deny")
	}
	if mb.OutgoingAccessControl().IsAuthorized(msg) {
		t.Fatal("nil outgoing control must deny")
	}
}

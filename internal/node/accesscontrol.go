package node

import (
	"fmt"
	"sort"
	"strings"
)

// AccessControl is a pure predicate deciding whether a message may pass a
// mailbox boundary. Implementations carry no mutable state beyond what is
// configured at construction.
type AccessControl interface {
	IsAuthorized(msg *RelayMessage) bool
	String() string
}

type allowAll struct{}

func (allowAll) IsAuthorized(*RelayMessage) bool { return true }
func (allowAll) String() string                  { return "AllowAll" }

type denyAll struct{}

func (denyAll) IsAuthorized(*RelayMessage) bool { return false }
func (denyAll) String() string                  { return "DenyAll" }

// AllowAll authorizes every message.
func AllowAll() AccessControl { return allowAll{} }

// DenyAll rejects every message.
func DenyAll() AccessControl { return denyAll{} }

type allowSources struct {
	addresses map[Address]struct{}
}

// AllowSourceAddresses authorizes only messages originating from the given
// addresses.
func AllowSourceAddresses(addresses ...Address) AccessControl {
	set := make(map[Address]struct{}, len(addresses))
	for _, a := range addresses {
		set[a] = struct{}{}
	}
	return &allowSources{addresses: set}
}

func (ac *allowSources) IsAuthorized(msg *RelayMessage) bool {
	_, ok := ac.addresses[msg.Source()]
	return ok
}

func (ac *allowSources) String() string {
	return fmt.Sprintf("AllowSources(%s)", joinAddresses(ac.addresses))
}

type allowDestinations struct {
	addresses map[Address]struct{}
}

// AllowDestinationAddresses authorizes only messages bound for the given
// addresses. Used as an outgoing control to pin a mailbox to its peers.
func AllowDestinationAddresses(addresses ...Address) AccessControl {
	set := make(map[Address]struct{}, len(addresses))
	for _, a := range addresses {
		set[a] = struct{}{}
	}
	return &allowDestinations{addresses: set}
}

func (ac *allowDestinations) IsAuthorized(msg *RelayMessage) bool {
	_, ok := ac.addresses[msg.Destination()]
	return ok
}

func (ac *allowDestinations) String() string {
	return fmt.Sprintf("AllowDestinations(%s)", joinAddresses(ac.addresses))
}

type allOf struct {
	controls []AccessControl
}

// AllOf composes controls conjunctively: every control must authorize the
// message.
func AllOf(controls ...AccessControl) AccessControl {
	return &allOf{controls: controls}
}

func (ac *allOf) IsAuthorized(msg *RelayMessage) bool {
	for _, c := range ac.controls {
		if !c.IsAuthorized(msg) {
			return false
		}
	}
	return true
}

func (ac *allOf) String() string {
	parts := make([]string, 0, len(ac.controls))
	for _, c := range ac.controls {
		parts = append(parts, c.String())
	}
	return fmt.Sprintf("AllOf(%s)", strings.Join(parts, ", "))
}

func joinAddresses(set map[Address]struct{}) string {
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

package protocol

import "fmt"

// Domain identifies the vehicle subsystem a command is routed to. Each Domain maintains its own
// cryptographic session with the controller.
type Domain uint8

const (
	// DomainBroadcast addresses no particular subsystem. Handshake messages and unsolicited
	// announcements use it.
	DomainBroadcast Domain = 0
	// DomainAccessControl handles (un)lock, wake, closure, and key-enrollment commands.
	DomainAccessControl Domain = 1
	// DomainInfotainment handles climate and charging commands that terminate on the vehicle's
	// infotainment system.
	DomainInfotainment Domain = 2
)

func (d Domain) String() string {
	switch d {
	case DomainBroadcast:
		return "broadcast"
	case DomainAccessControl:
		return "access-control"
	case DomainInfotainment:
		return "infotainment"
	}
	return fmt.Sprintf("domain(%d)", uint8(d))
}

// Valid returns true if d is a recognized routing destination.
func (d Domain) Valid() bool {
	return d == DomainBroadcast || d == DomainAccessControl || d == DomainInfotainment
}

package connector

import (
	"context"
	"time"
)

// BufferSize is the number of inbound messages that can be queued.
const BufferSize = 5

// MaxMessageLength caps the byte-length of reassembled messages that connectors must support.
const MaxMessageLength = 100000

// Connector sends and receives complete messages ([]byte) to and from a vehicle. Fragmentation
// to the link layer's write size is the connector's concern; upper layers only see whole
// envelopes.
type Connector interface {
	// Receive returns a read-only channel carrying reassembled messages sent by the vehicle.
	//
	// Implementations must be thread safe.
	Receive() <-chan []byte

	// Send transmits a complete message to the vehicle.
	//
	// Depending on the error, the vehicle may have received and even acted on the message. For
	// some errors, such as link timeouts, the client cannot determine whether this is the case.
	//
	// Implementations must be thread safe.
	Send(ctx context.Context, message []byte) error

	// VIN returns the vehicle identification number of the connected vehicle.
	VIN() string

	// Close terminates the connection to the vehicle.
	//
	// Repeated calls to Close() must be idempotent, but the behavior of the interface is
	// otherwise undefined after calling this method.
	Close()

	// RetryInterval returns the recommended wait time between transmission attempts.
	RetryInterval() time.Duration
}

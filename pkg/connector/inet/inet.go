// Package inet implements [connector.Connector] over a TCP stream. It is used to reach vehicle
// simulators and radio gateways that forward the BLE characteristic data over the local network.
//
// The stream carries length-prefixed messages: a big-endian uint16 byte count followed by the
// message itself. TCP already provides ordering and retransmission, so no fragment headers are
// needed.
package inet

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/connector"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

const headerLength = 2

// maxMessageLength caps a single length-prefixed message. The uint16 header cannot describe
// anything longer.
const maxMessageLength = 1<<16 - 1

type Connection struct {
	vin   string
	conn  net.Conn
	inbox chan []byte

	writeLock sync.Mutex
	closeOnce sync.Once
}

// NewConnection dials a vehicle endpoint at addr.
func NewConnection(ctx context.Context, vin, addr string) (*Connection, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &protocol.LinkError{Details: err}
	}
	return NewConnectionFromSocket(vin, conn), nil
}

// NewConnectionFromSocket wraps an established stream. The Connection takes ownership of conn
// and closes it on Close.
func NewConnectionFromSocket(vin string, conn net.Conn) *Connection {
	c := &Connection{
		vin:   vin,
		conn:  conn,
		inbox: make(chan []byte, connector.BufferSize),
	}
	go c.readLoop()
	return c
}

func (c *Connection) readLoop() {
	defer close(c.inbox)
	header := make([]byte, headerLength)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			if err != io.EOF {
				log.Debug("inet: read loop terminated: %s", err)
			}
			return
		}
		message := make([]byte, binary.BigEndian.Uint16(header))
		if _, err := io.ReadFull(c.conn, message); err != nil {
			log.Debug("inet: read loop terminated mid-message: %s", err)
			return
		}
		log.Debug("RX: %02x", message)
		select {
		case c.inbox <- message:
		default:
			log.Warning("inet: dropping message because inbox is full")
		}
	}
}

func (c *Connection) Receive() <-chan []byte {
	return c.inbox
}

func (c *Connection) Send(ctx context.Context, message []byte) error {
	if len(message) > maxMessageLength {
		return fmt.Errorf("%w: message of %d bytes exceeds stream limit", protocol.ErrMalformedMessage, len(message))
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := ctx.Err(); err != nil {
		return &protocol.LinkError{Details: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return &protocol.LinkError{Details: err}
		}
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	log.Debug("TX: %02x", message)
	out := binary.BigEndian.AppendUint16(nil, uint16(len(message)))
	out = append(out, message...)
	if _, err := c.conn.Write(out); err != nil {
		return &protocol.LinkError{Details: err}
	}
	return nil
}

func (c *Connection) VIN() string {
	return c.vin
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			log.Debug("inet: close: %s", err)
		}
	})
}

func (c *Connection) RetryInterval() time.Duration {
	return 200 * time.Millisecond
}

// Package ble implements [connector.Connector] over a Bluetooth Low Energy link.
//
// The vehicle advertises under a name derived from its VIN and exposes one GATT service with a
// write characteristic (controller to vehicle) and a notify characteristic (vehicle to
// controller). Messages larger than the link MTU are fragmented with [framing.Split] and
// reassembled on receive.
package ble

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/connector"
	"github.com/vehiclelink/vehiclelink/pkg/connector/framing"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

var ErrMaxConnectionsExceeded = protocol.NewError("the vehicle is already connected to the maximum number of BLE devices", false, false)

const (
	defaultMTU    = 23
	maxBLEMTUSize = 512 + 3

	VehicleServiceUUID = "00000311-8a4f-4b0e-9d6a-5a1c3f8e2b71"
	ToVehicleUUID      = "00000312-8a4f-4b0e-9d6a-5a1c3f8e2b71"
	FromVehicleUUID    = "00000313-8a4f-4b0e-9d6a-5a1c3f8e2b71"
)

// Beacon describes a BLE advertisement from a vehicle.
type Beacon struct {
	Address     string
	LocalName   string
	RSSI        int16
	Connectable bool
}

// Adapter abstracts the host's BLE stack. Package goble implements it.
type Adapter interface {
	ScanBeacon(ctx context.Context, name string) (*Beacon, error)
	Connect(ctx context.Context, beacon *Beacon) (Device, error)
	Close() error
}

type Device interface {
	Service(ctx context.Context, uuid string) (Service, error)
	Close() error
}

type Service interface {
	Rx(uuid string, callback func(buf []byte)) error
	Tx(uuid string) (Writer, error)
}

type Writer interface {
	Write(p []byte) (int, error)
	MTU(rxMTU int) (txMTU int, err error)
}

// VehicleLocalName returns the advertisement name a vehicle with the given VIN uses. The VIN is
// hashed so that it is not broadcast in the clear.
func VehicleLocalName(vin string) string {
	digest := sha1.Sum([]byte(vin))
	return fmt.Sprintf("VL%02xC", digest[:8])
}

// ScanVehicleBeacon searches for the vehicle's advertisement until ctx expires.
func ScanVehicleBeacon(ctx context.Context, vin string, adapter Adapter) (*Beacon, error) {
	return adapter.ScanBeacon(ctx, VehicleLocalName(vin))
}

// Connection implements connector.Connector over a BLE link.
type Connection struct {
	vin    string
	inbox  chan []byte
	device Device
	writer Writer

	blockLength int
	assembler   *framing.Assembler
	lock        sync.Mutex
}

// NewConnection scans for the vehicle with the given VIN and connects to it.
func NewConnection(ctx context.Context, vin string, adapter Adapter) (*Connection, error) {
	beacon, err := adapter.ScanBeacon(ctx, VehicleLocalName(vin))
	if err != nil {
		return nil, err
	}
	return NewConnectionFromBeacon(ctx, vin, beacon, adapter)
}

// NewConnectionFromBeacon connects to a previously discovered beacon, retrying until ctx
// expires. Transient dial failures are common when the vehicle has just woken its radio.
func NewConnectionFromBeacon(ctx context.Context, vin string, beacon *Beacon, adapter Adapter) (*Connection, error) {
	if beacon.LocalName != VehicleLocalName(vin) {
		return nil, fmt.Errorf("ble: beacon with unexpected local name: '%s'", beacon.LocalName)
	}
	if !beacon.Connectable {
		return nil, ErrMaxConnectionsExceeded
	}

	var lastError error
	for {
		conn, err := tryToConnect(ctx, vin, beacon, adapter)
		if err == nil {
			return conn, nil
		}
		log.Warning("BLE connection attempt failed: %s", err)
		if err := ctx.Err(); err != nil {
			if lastError != nil {
				return nil, lastError
			}
			return nil, err
		}
		lastError = err
	}
}

func tryToConnect(ctx context.Context, vin string, beacon *Beacon, adapter Adapter) (*Connection, error) {
	device, err := adapter.Connect(ctx, beacon)
	if err != nil {
		return nil, err
	}

	service, err := device.Service(ctx, VehicleServiceUUID)
	if err != nil {
		device.Close()
		return nil, err
	}

	writer, err := service.Tx(ToVehicleUUID)
	if err != nil {
		device.Close()
		return nil, err
	}

	txMTU, err := writer.MTU(maxBLEMTUSize)
	if err != nil {
		txMTU = defaultMTU
	}
	// 3 bytes of ATT header are not available for application payload.
	blockLength := txMTU - 3
	if blockLength < framing.MinWriteSize {
		device.Close()
		return nil, fmt.Errorf("ble: negotiated MTU %d too small", txMTU)
	}

	conn := &Connection{
		vin:         vin,
		inbox:       make(chan []byte, connector.BufferSize),
		device:      device,
		writer:      writer,
		blockLength: blockLength,
		assembler:   &framing.Assembler{MaxLength: connector.MaxMessageLength},
	}
	if err := service.Rx(FromVehicleUUID, conn.rx); err != nil {
		device.Close()
		return nil, err
	}
	log.Info("Connected to vehicle BLE")
	return conn, nil
}

func (c *Connection) Receive() <-chan []byte {
	return c.inbox
}

// Send fragments message to the negotiated MTU and writes the fragments in order.
func (c *Connection) Send(ctx context.Context, message []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	fragments, err := framing.Split(message, c.blockLength)
	if err != nil {
		return err
	}
	log.Debug("TX: %02x", message)
	for _, fragment := range fragments {
		if err := ctx.Err(); err != nil {
			return &protocol.LinkError{Details: err}
		}
		n, err := c.writer.Write(fragment)
		if err != nil {
			return &protocol.LinkError{Details: err}
		}
		if n != len(fragment) {
			return &protocol.LinkError{Details: fmt.Errorf("ble: wrote %d of %d bytes", n, len(fragment))}
		}
	}
	return nil
}

func (c *Connection) VIN() string {
	return c.vin
}

func (c *Connection) Close() {
	if c.device == nil {
		return
	}
	if err := c.device.Close(); err != nil {
		log.Warning("ble: failed to close device: %s", err)
	}
	c.device = nil
}

func (c *Connection) RetryInterval() time.Duration {
	return time.Second
}

// rx receives one BLE notification. Each notification carries exactly one fragment.
func (c *Connection) rx(p []byte) {
	message, err := c.assembler.Accept(p)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformedMessage) {
			log.Warning("ble: discarding malformed inbound data: %s", err)
		} else {
			log.Warning("ble: %s", err)
		}
		return
	}
	if message == nil {
		return
	}
	log.Debug("RX: %02x", message)
	select {
	case c.inbox <- message:
	default:
		log.Warning("ble: dropping message because inbox is full")
	}
}

package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/vehiclelink/vehiclelink/pkg/connector/framing"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

const testVIN = "5YJ3000000NEXUS01"

type fakeWriter struct {
	mtu    int
	mtuErr error
	err    error
	writes [][]byte
}

func (w *fakeWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	buffered := make([]byte, len(p))
	copy(buffered, p)
	w.writes = append(w.writes, buffered)
	return len(p), nil
}

func (w *fakeWriter) MTU(rxMTU int) (int, error) {
	if w.mtuErr != nil {
		return 0, w.mtuErr
	}
	return w.mtu, nil
}

type fakeService struct {
	writer   *fakeWriter
	callback func([]byte)
}

func (s *fakeService) Rx(uuid string, callback func(buf []byte)) error {
	s.callback = callback
	return nil
}

func (s *fakeService) Tx(uuid string) (Writer, error) {
	return s.writer, nil
}

type fakeDevice struct {
	service *fakeService
	closed  bool
}

func (d *fakeDevice) Service(_ context.Context, uuid string) (Service, error) {
	if uuid != VehicleServiceUUID {
		return nil, fmt.Errorf("unknown service %s", uuid)
	}
	return d.service, nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

type fakeAdapter struct {
	device *fakeDevice
}

func (a *fakeAdapter) ScanBeacon(ctx context.Context, name string) (*Beacon, error) {
	return &Beacon{Address: "aa:bb:cc:dd:ee:ff", LocalName: name, Connectable: true}, nil
}

func (a *fakeAdapter) Connect(ctx context.Context, beacon *Beacon) (Device, error) {
	return a.device, nil
}

func (a *fakeAdapter) Close() error { return nil }

func testConnection(t *testing.T, mtu int) (*Connection, *fakeDevice) {
	t.Helper()
	device := &fakeDevice{service: &fakeService{writer: &fakeWriter{mtu: mtu}}}
	adapter := &fakeAdapter{device: device}
	conn, err := NewConnection(context.Background(), testVIN, adapter)
	if err != nil {
		t.Fatalf("NewConnection failed: %s", err)
	}
	return conn, device
}

func TestVehicleLocalName(t *testing.T) {
	name := VehicleLocalName(testVIN)
	if !strings.HasPrefix(name, "VL") || !strings.HasSuffix(name, "C") {
		t.Errorf("unexpected local name format: %s", name)
	}
	if name != VehicleLocalName(testVIN) {
		t.Error("local name is not deterministic")
	}
	if name == VehicleLocalName("5YJ3000000NEXUS02") {
		t.Error("distinct VINs map to the same local name")
	}
	if strings.Contains(name, testVIN) {
		t.Error("local name leaks the VIN")
	}
}

func TestSendFragmentsToMTU(t *testing.T) {
	conn, device := testConnection(t, 26)
	writer := device.service.writer

	message := make([]byte, 100)
	for i := range message {
		message[i] = byte(i)
	}
	if err := conn.Send(context.Background(), message); err != nil {
		t.Fatalf("Send failed: %s", err)
	}

	if len(writer.writes) < 2 {
		t.Fatalf("message was not fragmented (%d writes)", len(writer.writes))
	}
	var assembler framing.Assembler
	var reassembled []byte
	for _, fragment := range writer.writes {
		if len(fragment) > conn.blockLength {
			t.Errorf("fragment of %d bytes exceeds block length %d", len(fragment), conn.blockLength)
		}
		complete, err := assembler.Accept(fragment)
		if err != nil {
			t.Fatalf("Accept failed: %s", err)
		}
		if complete != nil {
			reassembled = complete
		}
	}
	if !bytes.Equal(reassembled, message) {
		t.Error("fragments do not reassemble to the original message")
	}
}

func TestReceiveReassemblesOutOfOrder(t *testing.T) {
	conn, device := testConnection(t, 26)

	message := make([]byte, 200)
	for i := range message {
		message[i] = byte(i * 3)
	}
	fragments, err := framing.Split(message, conn.blockLength)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(fragments), func(i, j int) {
		fragments[i], fragments[j] = fragments[j], fragments[i]
	})
	for _, fragment := range fragments {
		device.service.callback(fragment)
	}

	select {
	case received := <-conn.Receive():
		if !bytes.Equal(received, message) {
			t.Error("received message differs from sent message")
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestReceiveDropsMalformedData(t *testing.T) {
	conn, device := testConnection(t, 26)
	device.service.callback([]byte{0x00})

	select {
	case received := <-conn.Receive():
		t.Fatalf("malformed data delivered: %02x", received)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRejectsForeignBeacon(t *testing.T) {
	adapter := &fakeAdapter{}
	beacon := &Beacon{LocalName: "unrelated", Connectable: true}
	if _, err := NewConnectionFromBeacon(context.Background(), testVIN, beacon, adapter); err == nil {
		t.Error("connected to a beacon with the wrong local name")
	}
}

func TestRejectsBusyVehicle(t *testing.T) {
	adapter := &fakeAdapter{}
	beacon := &Beacon{LocalName: VehicleLocalName(testVIN), Connectable: false}
	_, err := NewConnectionFromBeacon(context.Background(), testVIN, beacon, adapter)
	if !errors.Is(err, ErrMaxConnectionsExceeded) {
		t.Errorf("expected ErrMaxConnectionsExceeded, got %v", err)
	}
}

func TestSendWriteFailureIsLinkError(t *testing.T) {
	conn, device := testConnection(t, 26)
	device.service.writer.err = errors.New("disconnected")
	err := conn.Send(context.Background(), []byte("hello"))
	if !protocol.IsLinkError(err) {
		t.Errorf("expected a link error, got %v", err)
	}
}

func TestRejectsTinyMTU(t *testing.T) {
	device := &fakeDevice{service: &fakeService{writer: &fakeWriter{mtu: framing.MinWriteSize}}}
	adapter := &fakeAdapter{device: device}
	beacon := &Beacon{LocalName: VehicleLocalName(testVIN), Connectable: true}
	if _, err := tryToConnect(context.Background(), testVIN, beacon, adapter); err == nil {
		t.Error("accepted an MTU too small for fragment headers")
	}
	if !device.closed {
		t.Error("device left open after failed connection")
	}
}

func TestMTUNegotiationFallback(t *testing.T) {
	device := &fakeDevice{service: &fakeService{writer: &fakeWriter{mtuErr: errors.New("not supported")}}}
	adapter := &fakeAdapter{device: device}
	beacon := &Beacon{LocalName: VehicleLocalName(testVIN), Connectable: true}
	conn, err := tryToConnect(context.Background(), testVIN, beacon, adapter)
	if err != nil {
		t.Fatalf("tryToConnect failed: %s", err)
	}
	if conn.blockLength != defaultMTU-3 {
		t.Errorf("blockLength = %d, want %d", conn.blockLength, defaultMTU-3)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn, device := testConnection(t, 26)
	conn.Close()
	conn.Close()
	if !device.closed {
		t.Error("device not closed")
	}
}

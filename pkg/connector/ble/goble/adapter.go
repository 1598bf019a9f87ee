// Package goble implements [ble.Adapter] on top of the go-ble host stack.
package goble

import (
	"context"
	"errors"
	"fmt"

	blelib "github.com/go-ble/ble"

	"github.com/vehiclelink/vehiclelink/pkg/connector/ble"
)

// NewAdapter opens the host's BLE device. The id selects a specific adapter on hosts with more
// than one; an empty id uses the default.
func NewAdapter(id string) (ble.Adapter, error) {
	device, err := newDevice(id)
	if err != nil {
		return nil, fmt.Errorf("ble: failed to enable device: %w", err)
	}
	return &adapter{device: device}, nil
}

type adapter struct {
	device blelib.Device
}

func (a *adapter) ScanBeacon(ctx context.Context, name string) (*ble.Beacon, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan blelib.Advertisement, 1)
	handler := func(adv blelib.Advertisement) {
		if adv.LocalName() != name {
			return
		}
		select {
		case found <- adv:
			cancel()
		case <-scanCtx.Done():
		}
	}

	// Scan blocks until its context is canceled, either by a match above or by the caller.
	if err := a.device.Scan(scanCtx, false, handler); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	select {
	case adv := <-found:
		return advertisementToBeacon(adv), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *adapter) Connect(ctx context.Context, beacon *ble.Beacon) (ble.Device, error) {
	client, err := a.device.Dial(ctx, blelib.NewAddr(beacon.Address))
	if err != nil {
		return nil, fmt.Errorf("ble: failed to dial %s (%s): %w", beacon.Address, beacon.LocalName, err)
	}
	return &device{client: client}, nil
}

func (a *adapter) Close() error {
	if a.device == nil {
		return nil
	}
	device := a.device
	a.device = nil
	return device.Stop()
}

func advertisementToBeacon(adv blelib.Advertisement) *ble.Beacon {
	return &ble.Beacon{
		Address:     adv.Addr().String(),
		LocalName:   adv.LocalName(),
		RSSI:        int16(adv.RSSI()),
		Connectable: adv.Connectable(),
	}
}

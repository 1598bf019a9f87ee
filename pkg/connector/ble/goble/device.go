package goble

import (
	"context"
	"errors"
	"fmt"

	blelib "github.com/go-ble/ble"

	"github.com/vehiclelink/vehiclelink/pkg/connector/ble"
)

type device struct {
	client blelib.Client
}

func (d *device) Service(_ context.Context, uuid string) (ble.Service, error) {
	services, err := d.client.DiscoverServices([]blelib.UUID{blelib.MustParse(uuid)})
	if err != nil {
		return nil, fmt.Errorf("ble: failed to enumerate device services: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("ble: failed to discover service %s", uuid)
	}
	return &service{client: d.client, service: services[0]}, nil
}

func (d *device) Close() error {
	if d.client == nil {
		return nil
	}
	client := d.client
	d.client = nil
	return errors.Join(client.ClearSubscriptions(), client.CancelConnection())
}

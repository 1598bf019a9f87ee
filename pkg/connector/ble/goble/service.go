package goble

import (
	"bytes"
	"fmt"

	blelib "github.com/go-ble/ble"

	"github.com/vehiclelink/vehiclelink/pkg/connector/ble"
)

type service struct {
	client  blelib.Client
	service *blelib.Service
}

func (s *service) Rx(uuid string, callback func(buf []byte)) error {
	characteristic, err := s.discover(uuid)
	if err != nil {
		return err
	}
	if err := s.client.Subscribe(characteristic, true, callback); err != nil {
		return fmt.Errorf("ble: failed to subscribe to RX: %w", err)
	}
	return nil
}

func (s *service) Tx(uuid string) (ble.Writer, error) {
	characteristic, err := s.discover(uuid)
	if err != nil {
		return nil, err
	}
	return &writer{characteristic: characteristic, client: s.client}, nil
}

func (s *service) discover(uuidStr string) (*blelib.Characteristic, error) {
	uuid := blelib.MustParse(uuidStr)
	characteristics, err := s.client.DiscoverCharacteristics([]blelib.UUID{uuid}, s.service)
	if err != nil {
		return nil, fmt.Errorf("ble: failed to discover service characteristics: %w", err)
	}

	var characteristic *blelib.Characteristic
	for _, char := range characteristics {
		if bytes.Equal(char.UUID, uuid) {
			characteristic = char
			break
		}
	}
	if characteristic == nil {
		return nil, fmt.Errorf("ble: characteristic %s not found", uuidStr)
	}
	if _, err := s.client.DiscoverDescriptors(nil, characteristic); err != nil {
		return nil, fmt.Errorf("ble: couldn't fetch descriptors: %w", err)
	}
	return characteristic, nil
}

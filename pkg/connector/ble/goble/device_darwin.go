package goble

import (
	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"

	"github.com/vehiclelink/vehiclelink/internal/log"
)

func newDevice(id string) (blelib.Device, error) {
	if id != "" {
		log.Warning("selecting a BLE adapter by id is not supported on Darwin; using the default")
	}
	return darwin.NewDevice()
}

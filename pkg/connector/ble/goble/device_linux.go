package goble

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"

	"github.com/vehiclelink/vehiclelink/internal/log"
)

const bleTimeout = 20 * time.Second

// Vehicles advertise every 20ms to 150ms depending on state; a short scan window keeps
// discovery latency low.
var scanParams = cmd.LESetScanParameters{
	LEScanType:           1,    // Active scanning
	LEScanInterval:       0x10, // 10ms
	LEScanWindow:         0x10, // 10ms
	OwnAddressType:       0,    // Static
	ScanningFilterPolicy: 2,    // Basic filtered
}

func newDevice(id string) (blelib.Device, error) {
	if id != "" {
		log.Warning("selecting a BLE adapter by id is not supported on Linux; using the default")
	}
	return linux.NewDevice(
		blelib.OptListenerTimeout(bleTimeout),
		blelib.OptDialerTimeout(bleTimeout),
		blelib.OptScanParams(scanParams),
	)
}

package goble

import (
	"errors"

	blelib "github.com/go-ble/ble"
)

func newDevice(_ string) (blelib.Device, error) {
	return nil, errors.New("ble: not supported on Windows")
}

package action

import "github.com/vehiclelink/vehiclelink/pkg/protocol/wire"

// Remote keyless entry operations, handled by the vehicle's access control unit.
const (
	OpWake   wire.Operation = 0x0001
	OpLock   wire.Operation = 0x0002
	OpUnlock wire.Operation = 0x0003
)

// Wake brings the vehicle out of sleep so that subsequent commands are accepted promptly.
func Wake() *wire.Command {
	return accessControl(OpWake)
}

// Lock locks the vehicle's doors.
func Lock() *wire.Command {
	return accessControl(OpLock)
}

// Unlock unlocks the vehicle's doors.
func Unlock() *wire.Command {
	return accessControl(OpUnlock)
}

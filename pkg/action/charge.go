package action

import (
	"fmt"

	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

// Charging operations, handled by the vehicle's infotainment system.
const (
	OpChargingStartStop wire.Operation = 0x0102
	OpSetChargeLimit    wire.Operation = 0x0103
	OpSetChargingAmps   wire.Operation = 0x0104
	OpChargeStatePoll   wire.Operation = 0x0105
)

// ChargeStart starts charging. The vehicle rejects the command if a cable is not plugged in.
func ChargeStart() *wire.Command {
	return infotainment(OpChargingStartStop, wire.Parameter{Key: ParamEnabled, Value: wire.BoolValue(true)})
}

// ChargeStop stops charging.
func ChargeStop() *wire.Command {
	return infotainment(OpChargingStartStop, wire.Parameter{Key: ParamEnabled, Value: wire.BoolValue(false)})
}

// SetChargeLimit sets the state-of-charge ceiling as a percentage.
func SetChargeLimit(percent uint8) (*wire.Command, error) {
	if percent > 100 {
		return nil, fmt.Errorf("charge limit %d%% out of range", percent)
	}
	return infotainment(OpSetChargeLimit, wire.Parameter{Key: ParamPercent, Value: wire.Uint8Value(percent)}), nil
}

// SetChargingAmps sets the charging current in amperes.
func SetChargingAmps(amps uint8) (*wire.Command, error) {
	if amps == 0 {
		return nil, fmt.Errorf("charging current must be positive")
	}
	return infotainment(OpSetChargingAmps, wire.Parameter{Key: ParamAmps, Value: wire.Uint8Value(amps)}), nil
}

// ChargeStatePoll requests the vehicle's charge state (level, limit, charging status).
func ChargeStatePoll() *wire.Command {
	return infotainment(OpChargeStatePoll)
}

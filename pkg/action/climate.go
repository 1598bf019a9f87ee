package action

import "github.com/vehiclelink/vehiclelink/pkg/protocol/wire"

// OpClimate turns automatic climate control on or off.
const OpClimate wire.Operation = 0x0101

// ClimateOn turns on the climate control system.
func ClimateOn() *wire.Command {
	return infotainment(OpClimate, wire.Parameter{Key: ParamEnabled, Value: wire.BoolValue(true)})
}

// ClimateOff turns off the climate control system.
func ClimateOff() *wire.Command {
	return infotainment(OpClimate, wire.Parameter{Key: ParamEnabled, Value: wire.BoolValue(false)})
}

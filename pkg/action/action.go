// Package action builds the logical commands a controller can send to a vehicle. Constructors
// return wire.Command values ready for the dispatcher; they perform no I/O and no cryptography.
package action

import (
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

// Parameter keys used across operations.
const (
	ParamEnabled    wire.ParamKey = 1
	ParamPercent    wire.ParamKey = 2
	ParamAmps       wire.ParamKey = 3
	ParamPublicKey  wire.ParamKey = 4
	ParamRearTrunk  wire.ParamKey = 5
	ParamFrontTrunk wire.ParamKey = 6
	ParamChargePort wire.ParamKey = 7
)

func accessControl(op wire.Operation, params ...wire.Parameter) *wire.Command {
	return &wire.Command{Domain: protocol.DomainAccessControl, Operation: op, Parameters: params}
}

func infotainment(op wire.Operation, params ...wire.Parameter) *wire.Command {
	return &wire.Command{Domain: protocol.DomainInfotainment, Operation: op, Parameters: params}
}

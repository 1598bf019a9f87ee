package action

import "github.com/vehiclelink/vehiclelink/pkg/protocol/wire"

// OpClosureMove actuates one of the vehicle's closures. The parameter key selects the closure
// and the value carries the movement.
const OpClosureMove wire.Operation = 0x0004

// Closure represents a part of the vehicle that opens and closes.
type Closure string

const (
	ClosureTrunk      Closure = "trunk"
	ClosureFrunk      Closure = "frunk"
	ClosureChargePort Closure = "charge-port"
)

const (
	closureMoveOpen  uint8 = 1
	closureMoveClose uint8 = 2
)

// OpenTrunk opens the trunk, but note that CloseTrunk is not available on all vehicle types.
func OpenTrunk() *wire.Command {
	return buildClosureAction(ClosureTrunk, closureMoveOpen)
}

// CloseTrunk is not available on all vehicle types.
func CloseTrunk() *wire.Command {
	return buildClosureAction(ClosureTrunk, closureMoveClose)
}

// OpenFrunk opens the frunk. There is no remote way to close the frunk!
func OpenFrunk() *wire.Command {
	return buildClosureAction(ClosureFrunk, closureMoveOpen)
}

// OpenChargePort opens the charge port door.
func OpenChargePort() *wire.Command {
	return buildClosureAction(ClosureChargePort, closureMoveOpen)
}

// CloseChargePort closes the charge port door.
func CloseChargePort() *wire.Command {
	return buildClosureAction(ClosureChargePort, closureMoveClose)
}

func buildClosureAction(closure Closure, move uint8) *wire.Command {
	// Not all movements are meaningful for all closures. Exported functions restrict combinations.
	var key wire.ParamKey
	switch closure {
	case ClosureTrunk:
		key = ParamRearTrunk
	case ClosureFrunk:
		key = ParamFrontTrunk
	case ClosureChargePort:
		key = ParamChargePort
	}
	return accessControl(OpClosureMove, wire.Parameter{Key: key, Value: wire.Uint8Value(move)})
}

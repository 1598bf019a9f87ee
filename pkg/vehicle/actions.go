package vehicle

import (
	"context"

	"github.com/vehiclelink/vehiclelink/pkg/action"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

// Wake brings the vehicle out of sleep. Other commands issued to a sleeping vehicle time out.
func (v *Vehicle) Wake(ctx context.Context) error {
	return v.execute(ctx, action.Wake())
}

// Lock locks the vehicle's doors.
func (v *Vehicle) Lock(ctx context.Context) error {
	return v.execute(ctx, action.Lock())
}

// Unlock unlocks the vehicle's doors.
func (v *Vehicle) Unlock(ctx context.Context) error {
	return v.execute(ctx, action.Unlock())
}

// OpenTrunk opens the trunk, but note that CloseTrunk is not available on all vehicle types.
func (v *Vehicle) OpenTrunk(ctx context.Context) error {
	return v.execute(ctx, action.OpenTrunk())
}

// CloseTrunk is not available on all vehicle types.
func (v *Vehicle) CloseTrunk(ctx context.Context) error {
	return v.execute(ctx, action.CloseTrunk())
}

// OpenFrunk opens the frunk. There is no remote way to close the frunk!
func (v *Vehicle) OpenFrunk(ctx context.Context) error {
	return v.execute(ctx, action.OpenFrunk())
}

// ChargePortOpen opens the charge port door.
func (v *Vehicle) ChargePortOpen(ctx context.Context) error {
	return v.execute(ctx, action.OpenChargePort())
}

// ChargePortClose closes the charge port door.
func (v *Vehicle) ChargePortClose(ctx context.Context) error {
	return v.execute(ctx, action.CloseChargePort())
}

// ClimateOn turns on the climate control system.
func (v *Vehicle) ClimateOn(ctx context.Context) error {
	return v.execute(ctx, action.ClimateOn())
}

// ClimateOff turns off the climate control system.
func (v *Vehicle) ClimateOff(ctx context.Context) error {
	return v.execute(ctx, action.ClimateOff())
}

// ChargeStart starts charging. The vehicle rejects the command if a cable is not plugged in.
func (v *Vehicle) ChargeStart(ctx context.Context) error {
	return v.execute(ctx, action.ChargeStart())
}

// ChargeStop stops charging.
func (v *Vehicle) ChargeStop(ctx context.Context) error {
	return v.execute(ctx, action.ChargeStop())
}

// ChangeChargeLimit sets the state-of-charge ceiling as a percentage.
func (v *Vehicle) ChangeChargeLimit(ctx context.Context, percent uint8) error {
	cmd, err := action.SetChargeLimit(percent)
	if err != nil {
		return err
	}
	return v.execute(ctx, cmd)
}

// SetChargingAmps sets the charging current in amperes.
func (v *Vehicle) SetChargingAmps(ctx context.Context, amps uint8) error {
	cmd, err := action.SetChargingAmps(amps)
	if err != nil {
		return err
	}
	return v.execute(ctx, cmd)
}

// SecurityStatus polls the access control unit for lock and sleep state. The reply's parameters
// are reported as received; interpreting them is up to the caller.
func (v *Vehicle) SecurityStatus(ctx context.Context) (*wire.Command, error) {
	return v.dispatcher.Execute(ctx, action.StatusPoll())
}

// ChargeState polls the infotainment system for battery level, charge limit, and charging
// status.
func (v *Vehicle) ChargeState(ctx context.Context) (*wire.Command, error) {
	return v.dispatcher.Execute(ctx, action.ChargeStatePoll())
}

// SendPairingRequest asks the vehicle to enroll the client's public key. The vehicle only
// accepts enrollment while the user confirms physical presence, typically with a key card.
func (v *Vehicle) SendPairingRequest(ctx context.Context) error {
	if v.privateKey == nil {
		return protocol.ErrRequiresKey
	}
	_, err := v.dispatcher.ExecuteUnauthenticated(ctx, action.EnrollKey(v.privateKey.PublicBytes()))
	return err
}

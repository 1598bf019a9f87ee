package action

import "github.com/vehiclelink/vehiclelink/pkg/protocol/wire"

const (
	// OpStatusPoll requests the access control unit's security status (lock state, sleep state).
	OpStatusPoll wire.Operation = 0x0005
	// OpEnrollKey asks the vehicle to enroll a controller's long-term public key. Sent
	// unauthenticated during pairing; the user confirms in-vehicle.
	OpEnrollKey wire.Operation = 0x0006
)

// StatusPoll requests the vehicle's security status.
func StatusPoll() *wire.Command {
	return accessControl(OpStatusPoll)
}

// EnrollKey builds a pairing request for the given encoded public key.
func EnrollKey(publicKey []byte) *wire.Command {
	return accessControl(OpEnrollKey, wire.Parameter{Key: ParamPublicKey, Value: publicKey})
}

// Package authentication implements the cryptographic session layer: ephemeral key agreement,
// direction-separated key derivation, and counter-bound message authentication.
//
// The concrete primitives (P-256 ECDH, HKDF-SHA256, truncated HMAC-SHA256 tags, 32-bit counters)
// live behind the ECDHPrivateKey and Session interfaces so that a different vehicle protocol
// revision can swap the suite without touching the negotiator or dispatcher.
package authentication

import "errors"

const (
	// SharedKeySizeBytes is the length of each derived direction key.
	SharedKeySizeBytes = 16
	// TagLengthBytes is the length of the authentication tag carried in the envelope trailer.
	TagLengthBytes = 16
	// EpochLength is the size of the per-session random epoch minted by the vehicle.
	EpochLength = 16
	// KeyIDLength is the size of the short key identifier mixed into the derivation salt.
	KeyIDLength = 4

	counterMax = 0xFFFFFFFF
)

var (
	// ErrInvalidPublicKey is raised when a remote peer provides an invalid public key.
	ErrInvalidPublicKey = errors.New("invalid public key")
	// ErrInvalidPrivateKey indicates the local peer tried to load an unsupported or malformed
	// private key.
	ErrInvalidPrivateKey = errors.New("invalid private key")
	// ErrInvalidTag indicates an authentication tag did not verify.
	ErrInvalidTag = errors.New("authentication tag mismatch")
	// ErrStaleCounter indicates a message counter at or below the last accepted value.
	ErrStaleCounter = errors.New("stale or replayed message counter")
	// ErrCounterExhausted indicates the outgoing counter wrapped; the session must be
	// renegotiated before any further message is signed.
	ErrCounterExhausted = errors.New("outgoing counter exhausted")
)

// Role determines which derived key authenticates each direction. The controller's send key is
// the vehicle's receive key and vice versa; a key is never used in both directions.
type Role int

const (
	RoleController Role = iota
	RoleVehicle
)

// ECDHPrivateKey represents a local private key capable of key agreement.
//
// The interface hides the private scalar so that implementations can be backed by hardware or a
// system keyring without divulging long-term secrets to the process.
type ECDHPrivateKey interface {
	// Exchange runs key agreement against the remote public key and derives a Session. The salt
	// binds the session to the negotiated epoch and both peers' key identities.
	Exchange(remotePublicBytes, salt []byte, role Role) (Session, error)
	// PublicBytes returns the local public key encoded without point compression.
	PublicBytes() []byte
}

// A Session holds the direction-separated symmetric keys derived from one key agreement.
type Session interface {
	// LocalPublicBytes returns the encoded local public key used in the agreement.
	LocalPublicBytes() []byte
	// SendHMAC computes the authentication tag for an outgoing message.
	SendHMAC(data []byte) []byte
	// ReceiveHMAC computes the expected authentication tag for an inbound message.
	ReceiveHMAC(data []byte) []byte
}

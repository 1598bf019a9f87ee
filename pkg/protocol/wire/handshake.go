package wire

import (
	"encoding/binary"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

// HandshakeType enumerates the session negotiation messages.
type HandshakeType uint8

const (
	// HandshakeKeyExchange carries the controller's fresh ephemeral public key to a vehicle
	// domain. Sent unsigned, since no session exists yet.
	HandshakeKeyExchange HandshakeType = 1
	// HandshakeKeyExchangeAck is the vehicle's reply: its ephemeral public key plus the session
	// epoch and counter baseline.
	HandshakeKeyExchangeAck HandshakeType = 2
	// HandshakeSessionConfirm is exchanged once in each direction under the freshly derived keys
	// before either side treats the session as authorized.
	HandshakeSessionConfirm HandshakeType = 3
)

// HandshakeStatus reports the vehicle's disposition in a key exchange ack.
type HandshakeStatus uint8

const (
	HandshakeStatusOK HandshakeStatus = 0
	// HandshakeStatusKeyNotEnrolled means the controller's long-term key has not been paired with
	// the vehicle, so it refuses to negotiate.
	HandshakeStatusKeyNotEnrolled HandshakeStatus = 1
)

const (
	// EpochLength is the size of the random epoch identifier minted by the vehicle per session.
	EpochLength = 16
	// ChallengeLength is the size of the anti-replay challenge echoed through the handshake.
	ChallengeLength = 4
)

// Handshake is the payload of a FlagHandshake envelope.
type Handshake struct {
	Type      HandshakeType
	Status    HandshakeStatus
	PublicKey []byte
	Challenge [ChallengeLength]byte

	// IdentityKey and Proof are present on key exchanges and their acks: the sender's
	// long-term public key and a signature by it over the ephemeral key and challenge. The
	// vehicle checks the controller's IdentityKey against its enrolled keys to decide
	// HandshakeStatusKeyNotEnrolled; the controller checks the vehicle's IdentityKey against
	// its pinned key for the VIN.
	IdentityKey []byte
	Proof       []byte

	// Epoch and Counter are present only on key exchange acks.
	Epoch   [EpochLength]byte
	Counter uint32
}

// Encode serializes the handshake payload:
//
//	type(1) status(1) keylen(1) key challenge(4)
//	  [idlen(1) identity prooflen(1) proof on key exchanges and acks]
//	  [epoch(16) counter(4) on acks]
func (h *Handshake) Encode() ([]byte, error) {
	if len(h.PublicKey) > 0xFF {
		return nil, malformed("handshake public key too long")
	}
	switch h.Type {
	case HandshakeKeyExchange, HandshakeKeyExchangeAck, HandshakeSessionConfirm:
	default:
		return nil, malformed("unknown handshake type %d", h.Type)
	}
	out := make([]byte, 0, 5+len(h.PublicKey)+len(h.IdentityKey)+len(h.Proof)+ChallengeLength+EpochLength+4)
	out = append(out, uint8(h.Type), uint8(h.Status), uint8(len(h.PublicKey)))
	out = append(out, h.PublicKey...)
	out = append(out, h.Challenge[:]...)
	if h.Type == HandshakeKeyExchange || h.Type == HandshakeKeyExchangeAck {
		if len(h.IdentityKey) > 0xFF {
			return nil, malformed("handshake identity key too long")
		}
		if len(h.Proof) > 0xFF {
			return nil, malformed("handshake identity proof too long")
		}
		out = append(out, uint8(len(h.IdentityKey)))
		out = append(out, h.IdentityKey...)
		out = append(out, uint8(len(h.Proof)))
		out = append(out, h.Proof...)
	}
	if h.Type == HandshakeKeyExchangeAck {
		out = append(out, h.Epoch[:]...)
		out = binary.BigEndian.AppendUint32(out, h.Counter)
	}
	return out, nil
}

// DecodeHandshake parses a handshake payload.
func DecodeHandshake(payload []byte) (*Handshake, error) {
	if len(payload) < 3 {
		return nil, malformed("truncated handshake (%d bytes)", len(payload))
	}
	h := Handshake{
		Type:   HandshakeType(payload[0]),
		Status: HandshakeStatus(payload[1]),
	}
	switch h.Type {
	case HandshakeKeyExchange, HandshakeKeyExchangeAck, HandshakeSessionConfirm:
	default:
		return nil, malformed("unknown handshake type %d", payload[0])
	}
	keylen := int(payload[2])
	rest := payload[3:]
	if len(rest) < keylen+ChallengeLength {
		return nil, malformed("handshake key length field %d inconsistent with %d remaining bytes",
			keylen, len(rest))
	}
	if keylen > 0 {
		h.PublicKey = make([]byte, keylen)
		copy(h.PublicKey, rest[:keylen])
	}
	copy(h.Challenge[:], rest[keylen:keylen+ChallengeLength])
	rest = rest[keylen+ChallengeLength:]
	switch h.Type {
	case HandshakeKeyExchange:
		rest, err := h.decodeIdentity(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, malformed("%d trailing bytes after key exchange", len(rest))
		}
	case HandshakeKeyExchangeAck:
		rest, err := h.decodeIdentity(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) != EpochLength+4 {
			return nil, malformed("key exchange ack missing epoch or counter")
		}
		copy(h.Epoch[:], rest[:EpochLength])
		h.Counter = binary.BigEndian.Uint32(rest[EpochLength:])
	default:
		if len(rest) != 0 {
			return nil, malformed("%d trailing bytes after handshake", len(rest))
		}
	}
	return &h, nil
}

// decodeIdentity parses the idlen/identity/prooflen/proof section of a key exchange or ack,
// returning the unconsumed remainder.
func (h *Handshake) decodeIdentity(rest []byte) ([]byte, error) {
	if len(rest) < 1 {
		return nil, malformed("key exchange missing identity key")
	}
	idlen := int(rest[0])
	rest = rest[1:]
	if len(rest) < idlen+1 {
		return nil, malformed("key exchange identity length field %d inconsistent with %d remaining bytes",
			idlen, len(rest))
	}
	if idlen > 0 {
		h.IdentityKey = make([]byte, idlen)
		copy(h.IdentityKey, rest[:idlen])
	}
	prooflen := int(rest[idlen])
	rest = rest[idlen+1:]
	if len(rest) < prooflen {
		return nil, malformed("key exchange proof length field %d inconsistent with %d remaining bytes",
			prooflen, len(rest))
	}
	if prooflen > 0 {
		h.Proof = make([]byte, prooflen)
		copy(h.Proof, rest[:prooflen])
	}
	return rest[prooflen:], nil
}

// NewHandshakeEnvelope wraps a handshake payload in an envelope addressed to domain.
func NewHandshakeEnvelope(domain protocol.Domain, h *Handshake, requestID [RequestIDLength]byte) (*Envelope, error) {
	payload, err := h.Encode()
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Domain:    domain,
		Flags:     FlagHandshake,
		RequestID: requestID,
		Payload:   payload,
	}, nil
}

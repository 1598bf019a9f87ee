// Package wire implements the layered message envelope carried over the radio link: a routing
// header, an opaque domain payload, and an authentication trailer. The codec performs no
// cryptography and has no knowledge of session state.
//
// Encoding is deterministic: re-encoding a decoded envelope, or encoding the same logical message
// twice, produces bit-identical output so that a retransmission after a transport error is
// indistinguishable from the original on the wire.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

// Version is the envelope layout version emitted by this package.
const Version = 0x01

const (
	// RequestIDLength is the size of the request correlation id carried in every envelope.
	RequestIDLength = 16

	// MaxPayloadLength is the largest domain payload an envelope can carry.
	MaxPayloadLength = 0xFFFF

	// MaxTagLength bounds the authentication trailer. HMAC-SHA256 output is the largest tag any
	// supported suite produces.
	MaxTagLength = 32

	headerLength       = 3 + RequestIDLength + 2 // version, domain, flags, request id, payload length
	trailerFixedLength = 5                       // counter (4) + tag length (1)
)

// Flags describe how an envelope should be processed by the receiving end.
type Flags uint8

const (
	// FlagSigned marks an envelope whose trailer carries an authentication tag and counter.
	FlagSigned Flags = 1 << 0
	// FlagHandshake marks session negotiation messages, which are exchanged before any session
	// exists and therefore cannot be signed with session keys.
	FlagHandshake Flags = 1 << 1
	// FlagResponse marks vehicle-originated envelopes that answer a request with the same id.
	FlagResponse Flags = 1 << 2

	flagsKnown = FlagSigned | FlagHandshake | FlagResponse
)

// Envelope is the routing wrapper for one message: a destination domain, an opaque payload
// interpreted per domain, and an authentication trailer. An envelope is immutable once signed;
// re-sending requires re-signing with a fresh counter.
type Envelope struct {
	Domain    protocol.Domain
	Flags     Flags
	RequestID [RequestIDLength]byte

	// Payload is opaque to the codec. Command payloads are encoded by Command, handshake
	// payloads by Handshake.
	Payload []byte

	// Counter and Tag form the authentication trailer and are zero/empty on unsigned envelopes.
	// They are populated by the session signer, never by this package.
	Counter uint32
	Tag     []byte
}

func malformed(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", protocol.ErrMalformedMessage, fmt.Sprintf(format, a...))
}

// SigningBase returns the byte sequence covered by the authentication tag: the routing header
// followed by the payload. The signer appends the big-endian counter before computing the tag.
func (e *Envelope) SigningBase() []byte {
	base := make([]byte, 0, headerLength+len(e.Payload))
	base = e.appendHeader(base)
	return append(base, e.Payload...)
}

func (e *Envelope) appendHeader(buf []byte) []byte {
	buf = append(buf, Version, uint8(e.Domain), uint8(e.Flags))
	buf = append(buf, e.RequestID[:]...)
	return binary.BigEndian.AppendUint16(buf, uint16(len(e.Payload)))
}

// Encode serializes the envelope. It fails if the payload or tag exceed wire limits, or if the
// signed flag is inconsistent with the trailer.
func (e *Envelope) Encode() ([]byte, error) {
	if len(e.Payload) > MaxPayloadLength {
		return nil, malformed("payload length %d exceeds limit", len(e.Payload))
	}
	if len(e.Tag) > MaxTagLength {
		return nil, malformed("tag length %d exceeds limit", len(e.Tag))
	}
	if e.Flags&FlagSigned != 0 && len(e.Tag) == 0 {
		return nil, malformed("signed envelope missing tag")
	}
	if e.Flags&FlagSigned == 0 && (len(e.Tag) != 0 || e.Counter != 0) {
		return nil, malformed("unsigned envelope carries authentication trailer")
	}
	out := make([]byte, 0, headerLength+len(e.Payload)+trailerFixedLength+len(e.Tag))
	out = e.appendHeader(out)
	out = append(out, e.Payload...)
	out = binary.BigEndian.AppendUint32(out, e.Counter)
	out = append(out, uint8(len(e.Tag)))
	out = append(out, e.Tag...)
	return out, nil
}

// Decode parses data into an Envelope. It fails with an error wrapping
// protocol.ErrMalformedMessage on truncated, over-length, or structurally invalid input.
func Decode(data []byte) (*Envelope, error) {
	if len(data) < headerLength+trailerFixedLength {
		return nil, malformed("truncated envelope (%d bytes)", len(data))
	}
	if data[0] != Version {
		return nil, malformed("unsupported envelope version %d", data[0])
	}
	var e Envelope
	e.Domain = protocol.Domain(data[1])
	if !e.Domain.Valid() {
		return nil, malformed("unknown domain tag %d", data[1])
	}
	e.Flags = Flags(data[2])
	if e.Flags&^flagsKnown != 0 {
		return nil, malformed("unrecognized flag bits %#02x", uint8(e.Flags))
	}
	copy(e.RequestID[:], data[3:3+RequestIDLength])

	plen := int(binary.BigEndian.Uint16(data[headerLength-2 : headerLength]))
	if len(data) < headerLength+plen+trailerFixedLength {
		return nil, malformed("payload length field %d inconsistent with %d remaining bytes",
			plen, len(data)-headerLength-trailerFixedLength)
	}
	e.Payload = make([]byte, plen)
	copy(e.Payload, data[headerLength:headerLength+plen])

	trailer := data[headerLength+plen:]
	e.Counter = binary.BigEndian.Uint32(trailer[:4])
	taglen := int(trailer[4])
	if len(trailer) != trailerFixedLength+taglen {
		return nil, malformed("tag length field %d inconsistent with %d remaining bytes",
			taglen, len(trailer)-trailerFixedLength)
	}
	if taglen > 0 {
		e.Tag = make([]byte, taglen)
		copy(e.Tag, trailer[trailerFixedLength:])
	}
	if e.Flags&FlagSigned != 0 && taglen == 0 {
		return nil, malformed("signed envelope missing tag")
	}
	if e.Flags&FlagSigned == 0 && (taglen != 0 || e.Counter != 0) {
		return nil, malformed("unsigned envelope carries authentication trailer")
	}
	return &e, nil
}

package wire

import (
	"encoding/binary"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

// Operation identifies a command within its domain. The wire codec treats operations as opaque;
// the known values are defined by package action.
type Operation uint16

// ParamKey identifies one command parameter.
type ParamKey uint8

// Parameter is a single key/value argument of a command. Values are opaque bytes; typed helpers
// below cover the common widths.
type Parameter struct {
	Key   ParamKey
	Value []byte
}

// Command is the logical unit the dispatcher sends: an operation within a domain, plus ordered
// parameters. Encoding preserves parameter order so that encode/decode round-trips exactly and
// repeated encodings are bit-identical.
type Command struct {
	Domain     protocol.Domain
	Operation  Operation
	Parameters []Parameter
}

const maxParameters = 0xFF

// EncodePayload serializes the operation and parameters into a domain payload.
func (c *Command) EncodePayload() ([]byte, error) {
	if len(c.Parameters) > maxParameters {
		return nil, malformed("too many parameters (%d)", len(c.Parameters))
	}
	size := 3
	for _, p := range c.Parameters {
		if len(p.Value) > MaxPayloadLength {
			return nil, malformed("parameter %d value too long", p.Key)
		}
		size += 3 + len(p.Value)
	}
	if size > MaxPayloadLength {
		return nil, malformed("command payload exceeds envelope limit")
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint16(out, uint16(c.Operation))
	out = append(out, uint8(len(c.Parameters)))
	for _, p := range c.Parameters {
		out = append(out, uint8(p.Key))
		out = binary.BigEndian.AppendUint16(out, uint16(len(p.Value)))
		out = append(out, p.Value...)
	}
	return out, nil
}

// DecodeCommand parses a domain payload produced by EncodePayload.
func DecodeCommand(domain protocol.Domain, payload []byte) (*Command, error) {
	if len(payload) < 3 {
		return nil, malformed("truncated command payload (%d bytes)", len(payload))
	}
	cmd := Command{
		Domain:    domain,
		Operation: Operation(binary.BigEndian.Uint16(payload[:2])),
	}
	nparams := int(payload[2])
	rest := payload[3:]
	for i := 0; i < nparams; i++ {
		if len(rest) < 3 {
			return nil, malformed("truncated parameter %d", i)
		}
		vlen := int(binary.BigEndian.Uint16(rest[1:3]))
		if len(rest) < 3+vlen {
			return nil, malformed("parameter %d length field %d inconsistent with %d remaining bytes",
				i, vlen, len(rest)-3)
		}
		value := make([]byte, vlen)
		copy(value, rest[3:3+vlen])
		cmd.Parameters = append(cmd.Parameters, Parameter{Key: ParamKey(rest[0]), Value: value})
		rest = rest[3+vlen:]
	}
	if len(rest) != 0 {
		return nil, malformed("%d trailing bytes after command parameters", len(rest))
	}
	return &cmd, nil
}

// Param returns the value of the first parameter with the given key.
func (c *Command) Param(key ParamKey) ([]byte, bool) {
	for _, p := range c.Parameters {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Uint32Param returns a 4-byte big-endian parameter value.
func (c *Command) Uint32Param(key ParamKey) (uint32, bool) {
	v, ok := c.Param(key)
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

// BoolParam returns a 1-byte boolean parameter value.
func (c *Command) BoolParam(key ParamKey) (bool, bool) {
	v, ok := c.Param(key)
	if !ok || len(v) != 1 {
		return false, false
	}
	return v[0] != 0, true
}

// BoolValue encodes b as a 1-byte parameter value.
func BoolValue(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// Uint8Value encodes v as a 1-byte parameter value.
func Uint8Value(v uint8) []byte {
	return []byte{v}
}

// Uint32Value encodes v as a 4-byte big-endian parameter value.
func Uint32Value(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// NewCommandEnvelope wraps a command payload in an unsigned envelope addressed to the command's
// domain. The trailer is reserved for the session signer.
func NewCommandEnvelope(cmd *Command, requestID [RequestIDLength]byte) (*Envelope, error) {
	payload, err := cmd.EncodePayload()
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Domain:    cmd.Domain,
		RequestID: requestID,
		Payload:   payload,
	}, nil
}

package wire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

func TestCommandRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{
			name: "no parameters",
			cmd:  Command{Domain: protocol.DomainAccessControl, Operation: 0x0002},
		},
		{
			name: "single parameter",
			cmd: Command{
				Domain:     protocol.DomainInfotainment,
				Operation:  0x0101,
				Parameters: []Parameter{{Key: 1, Value: BoolValue(true)}},
			},
		},
		{
			name: "parameter order preserved",
			cmd: Command{
				Domain:    protocol.DomainAccessControl,
				Operation: 0x0004,
				Parameters: []Parameter{
					{Key: 3, Value: Uint32Value(80)},
					{Key: 1, Value: []byte("front")},
					{Key: 2, Value: nil},
				},
			},
		},
	}
	for _, test := range tests {
		payload, err := test.cmd.EncodePayload()
		if err != nil {
			t.Fatalf("%s: encode failed: %s", test.name, err)
		}
		decoded, err := DecodeCommand(test.cmd.Domain, payload)
		if err != nil {
			t.Fatalf("%s: decode failed: %s", test.name, err)
		}
		if decoded.Domain != test.cmd.Domain || decoded.Operation != test.cmd.Operation {
			t.Errorf("%s: round trip changed domain/operation", test.name)
		}
		if len(decoded.Parameters) != len(test.cmd.Parameters) {
			t.Fatalf("%s: round trip changed parameter count", test.name)
		}
		for i, p := range test.cmd.Parameters {
			got := decoded.Parameters[i]
			if got.Key != p.Key || !bytes.Equal(got.Value, p.Value) {
				t.Errorf("%s: parameter %d changed: %+v != %+v", test.name, i, got, p)
			}
		}
	}
}

func TestCommandEncodeDeterministic(t *testing.T) {
	cmd := Command{
		Domain:    protocol.DomainInfotainment,
		Operation: 0x0103,
		Parameters: []Parameter{
			{Key: 1, Value: Uint32Value(32)},
			{Key: 2, Value: BoolValue(false)},
		},
	}
	first, err := cmd.EncodePayload()
	if err != nil {
		t.Fatal(err)
	}
	second, err := cmd.EncodePayload()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("repeated command encoding differs")
	}
}

func TestDecodeCommandMalformed(t *testing.T) {
	cmd := Command{
		Domain:     protocol.DomainAccessControl,
		Operation:  0x0004,
		Parameters: []Parameter{{Key: 1, Value: []byte{0x01, 0x02}}},
	}
	valid, err := cmd.EncodePayload()
	if err != nil {
		t.Fatal(err)
	}

	badParamLength := append([]byte{}, valid...)
	badParamLength[5] = 0xFF // parameter value length now exceeds remaining bytes

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", valid[:2]},
		{"truncated parameter", valid[:len(valid)-1]},
		{"parameter length inconsistent", badParamLength},
		{"trailing bytes", append(append([]byte{}, valid...), 0xFF)},
	}
	for _, test := range tests {
		if _, err := DecodeCommand(protocol.DomainAccessControl, test.data); !errors.Is(err, protocol.ErrMalformedMessage) {
			t.Errorf("%s: expected ErrMalformedMessage, got %v", test.name, err)
		}
	}
}

func TestParamAccessors(t *testing.T) {
	cmd := Command{
		Parameters: []Parameter{
			{Key: 1, Value: Uint32Value(42)},
			{Key: 2, Value: BoolValue(true)},
		},
	}
	if v, ok := cmd.Uint32Param(1); !ok || v != 42 {
		t.Errorf("Uint32Param returned (%d, %t)", v, ok)
	}
	if v, ok := cmd.BoolParam(2); !ok || !v {
		t.Errorf("BoolParam returned (%t, %t)", v, ok)
	}
	if _, ok := cmd.Param(9); ok {
		t.Error("Param found nonexistent key")
	}
	if _, ok := cmd.Uint32Param(2); ok {
		t.Error("Uint32Param accepted 1-byte value")
	}
}

package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

func TestRecordCommand(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorderWithRegistry(reg)
	if err != nil {
		t.Fatalf("create recorder: %v", err)
	}

	rec.RecordCommand("5YJTEST", "lock", nil, 150*time.Millisecond)
	rec.RecordCommand("5YJTEST", "lock", protocol.ErrAuthenticationFailed, 0)
	rec.RecordCommand("5YJTEST", "unlock", protocol.ErrTimeout, 0)

	expected := `
# HELP vehiclelink_commands_total Total number of vehicle commands processed by the bridge
# TYPE vehiclelink_commands_total counter
vehiclelink_commands_total{command="lock",outcome="authentication_failed",vin="5YJTEST"} 1
vehiclelink_commands_total{command="lock",outcome="success",vin="5YJTEST"} 1
vehiclelink_commands_total{command="unlock",outcome="timeout",vin="5YJTEST"} 1
`
	if err := testutil.CollectAndCompare(rec.commands, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}

	// Latency is only observed for successful commands.
	if c := testutil.CollectAndCount(rec.latency); c != 1 {
		t.Errorf("latency series count = %d, want 1", c)
	}
}

func TestRecordHandshake(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorderWithRegistry(reg)
	if err != nil {
		t.Fatalf("create recorder: %v", err)
	}

	rec.RecordHandshake("5YJTEST", nil)
	rec.RecordHandshake("5YJTEST", protocol.ErrKeyNotPaired)

	expected := `
# HELP vehiclelink_handshakes_total Total number of session handshakes
# TYPE vehiclelink_handshakes_total counter
vehiclelink_handshakes_total{outcome="key_not_paired",vin="5YJTEST"} 1
vehiclelink_handshakes_total{outcome="success",vin="5YJTEST"} 1
`
	if err := testutil.CollectAndCompare(rec.handshakes, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestOutcomeClassification(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{protocol.ErrAuthenticationFailed, "authentication_failed"},
		{protocol.ErrReplayRejected, "replay_rejected"},
		{protocol.ErrTimeout, "timeout"},
		{protocol.ErrKeyNotPaired, "key_not_paired"},
		{&protocol.LinkError{Details: protocol.ErrNotConnected}, "link_error"},
		{protocol.ErrNoSession, "error"},
	}
	for _, test := range tests {
		if got := outcome(test.err); got != test.want {
			t.Errorf("outcome(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewRecorderWithRegistry(reg); err != nil {
		t.Fatal(err)
	}
	// A second recorder on the same registry reuses the existing collectors.
	if _, err := NewRecorderWithRegistry(reg); err != nil {
		t.Fatal(err)
	}
}

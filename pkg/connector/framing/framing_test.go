package framing

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

func testMessage(n int) []byte {
	message := make([]byte, n)
	for i := range message {
		message[i] = byte(i)
	}
	return message
}

func TestSplitRespectsWriteSize(t *testing.T) {
	message := testMessage(100)
	fragments, err := Split(message, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(fragments) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(fragments))
	}
	for i, fragment := range fragments {
		if len(fragment) > 20 {
			t.Errorf("fragment %d is %d bytes", i, len(fragment))
		}
	}
}

func TestSplitErrors(t *testing.T) {
	if _, err := Split(testMessage(10), MinWriteSize-1); err == nil {
		t.Error("accepted write size below minimum")
	}
	if _, err := Split(nil, 20); err == nil {
		t.Error("accepted empty message")
	}
}

func reassemble(t *testing.T, fragments [][]byte) []byte {
	t.Helper()
	var assembler Assembler
	for i, fragment := range fragments {
		message, err := assembler.Accept(fragment)
		if err != nil {
			t.Fatalf("fragment %d: %s", i, err)
		}
		if message != nil {
			if i != len(fragments)-1 {
				t.Fatalf("completed after %d of %d fragments", i+1, len(fragments))
			}
			return message
		}
	}
	t.Fatal("reassembly never completed")
	return nil
}

func TestReassemblyInOrder(t *testing.T) {
	for _, size := range []int{1, 13, 100, 1000} {
		message := testMessage(size)
		fragments, err := Split(message, 20)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(reassemble(t, fragments), message) {
			t.Errorf("size %d: reassembled message differs", size)
		}
	}
}

func TestReassemblyAnyOrder(t *testing.T) {
	message := testMessage(500)
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		fragments, err := Split(message, 32)
		if err != nil {
			t.Fatal(err)
		}
		rng.Shuffle(len(fragments), func(i, j int) {
			fragments[i], fragments[j] = fragments[j], fragments[i]
		})
		var assembler Assembler
		var reassembled []byte
		for _, fragment := range fragments {
			out, err := assembler.Accept(fragment)
			if err != nil {
				t.Fatalf("trial %d: %s", trial, err)
			}
			if out != nil {
				reassembled = out
			}
		}
		if !bytes.Equal(reassembled, message) {
			t.Fatalf("trial %d: reassembled message differs", trial)
		}
	}
}

func TestMissingFragmentNeverCompletes(t *testing.T) {
	fragments, err := Split(testMessage(100), 20)
	if err != nil {
		t.Fatal(err)
	}
	var assembler Assembler
	for i, fragment := range fragments {
		if i == 2 {
			continue
		}
		message, err := assembler.Accept(fragment)
		if err != nil {
			t.Fatalf("fragment %d: %s", i, err)
		}
		if message != nil {
			t.Fatal("delivered message with a fragment missing")
		}
	}
}

func TestDuplicateFragmentIgnored(t *testing.T) {
	message := testMessage(100)
	fragments, err := Split(message, 20)
	if err != nil {
		t.Fatal(err)
	}
	var assembler Assembler
	if _, err := assembler.Accept(fragments[0]); err != nil {
		t.Fatal(err)
	}
	if out, err := assembler.Accept(fragments[0]); err != nil || out != nil {
		t.Fatalf("retransmitted fragment: got (%v, %v)", out, err)
	}
	for _, fragment := range fragments[1:] {
		out, err := assembler.Accept(fragment)
		if err != nil {
			t.Fatal(err)
		}
		if out != nil {
			if !bytes.Equal(out, message) {
				t.Error("reassembled message differs after duplicate")
			}
			return
		}
	}
	t.Fatal("reassembly never completed")
}

func TestRetransmittedFirstFragmentKeepsDeclaredTotal(t *testing.T) {
	message := testMessage(100)
	fragments, err := Split(message, 20)
	if err != nil {
		t.Fatal(err)
	}
	var assembler Assembler
	if _, err := assembler.Accept(fragments[0]); err != nil {
		t.Fatal(err)
	}

	// A retransmit of the first fragment declaring a different total must not replace the
	// buffered declaration.
	retransmit := append([]byte{}, fragments[0]...)
	retransmit[5] = 10
	if out, err := assembler.Accept(retransmit); err != nil || out != nil {
		t.Fatalf("retransmitted first fragment: got (%v, %v)", out, err)
	}

	for _, fragment := range fragments[1:] {
		out, err := assembler.Accept(fragment)
		if err != nil {
			t.Fatal(err)
		}
		if out != nil {
			if !bytes.Equal(out, message) {
				t.Error("reassembled message differs after first-fragment retransmit")
			}
			return
		}
	}
	t.Fatal("reassembly never completed")
}

func TestLengthMismatchIsMalformed(t *testing.T) {
	fragments, err := Split(testMessage(40), 20)
	if err != nil {
		t.Fatal(err)
	}
	// Understate the declared total so accumulated bytes overrun it.
	fragments[0][5] = 10

	var assembler Assembler
	var lastErr error
	for _, fragment := range fragments {
		if _, lastErr = assembler.Accept(fragment); lastErr != nil {
			break
		}
	}
	if !errors.Is(lastErr, protocol.ErrMalformedMessage) {
		t.Errorf("expected ErrMalformedMessage, got %v", lastErr)
	}
}

func TestAcceptMalformedFragments(t *testing.T) {
	var assembler Assembler
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"index only", []byte{0x00, 0x01}},
		{"first fragment without payload", []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x0A}},
	}
	for _, test := range tests {
		if _, err := assembler.Accept(test.data); !errors.Is(err, protocol.ErrMalformedMessage) {
			t.Errorf("%s: expected ErrMalformedMessage, got %v", test.name, err)
		}
	}
}

func TestDeclaredLengthLimit(t *testing.T) {
	fragments, err := Split(testMessage(100), 20)
	if err != nil {
		t.Fatal(err)
	}
	assembler := Assembler{MaxLength: 50}
	if _, err := assembler.Accept(fragments[0]); !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Errorf("expected ErrMalformedMessage for oversized declaration, got %v", err)
	}
}

func TestStaleBufferDiscarded(t *testing.T) {
	message := testMessage(100)
	fragments, err := Split(message, 20)
	if err != nil {
		t.Fatal(err)
	}

	current := time.Unix(1000, 0)
	assembler := Assembler{Staleness: time.Second, now: func() time.Time { return current }}

	// Buffer everything except the last fragment, then stall past the deadline.
	for _, fragment := range fragments[:len(fragments)-1] {
		if _, err := assembler.Accept(fragment); err != nil {
			t.Fatal(err)
		}
	}
	current = current.Add(2 * time.Second)
	out, err := assembler.Accept(fragments[len(fragments)-1])
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatal("stale buffer delivered a message")
	}

	// A fresh transmission after the stall reassembles normally.
	if !bytes.Equal(reassemble(t, fragments), message) {
		t.Error("reassembly after staleness reset differs")
	}
}

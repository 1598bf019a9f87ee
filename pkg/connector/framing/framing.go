// Package framing splits messages into fragments sized to a link layer's per-write limit and
// reassembles inbound fragments, tolerating out-of-order arrival.
//
// Each fragment starts with a big-endian uint16 index. The first fragment (index zero)
// additionally carries the total message length as a big-endian uint32, so the receiver knows
// when reassembly is complete without the link layer delimiting messages.
package framing

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

const (
	indexLength  = 2
	totalLength  = 4
	headerLength = indexLength + totalLength

	// MinWriteSize is the smallest per-write limit the splitter supports: the first-fragment
	// header plus at least one payload byte.
	MinWriteSize = headerLength + 1

	maxFragments = 1 << 16
)

// DefaultStaleness bounds how long a partially reassembled message is retained.
const DefaultStaleness = 5 * time.Second

func malformed(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", protocol.ErrMalformedMessage, fmt.Sprintf(format, a...))
}

// Split fragments message so that every fragment fits in maxWrite bytes. The fragments must be
// delivered with their headers intact but may arrive at the peer in any order.
func Split(message []byte, maxWrite int) ([][]byte, error) {
	if maxWrite < MinWriteSize {
		return nil, fmt.Errorf("write size %d below minimum %d", maxWrite, MinWriteSize)
	}
	if len(message) == 0 {
		return nil, fmt.Errorf("cannot fragment empty message")
	}

	var fragments [][]byte
	rest := message
	for index := 0; len(rest) > 0; index++ {
		if index >= maxFragments {
			return nil, fmt.Errorf("message of %d bytes exceeds fragment index space", len(message))
		}
		header := binary.BigEndian.AppendUint16(nil, uint16(index))
		if index == 0 {
			header = binary.BigEndian.AppendUint32(header, uint32(len(message)))
		}
		chunk := maxWrite - len(header)
		if chunk > len(rest) {
			chunk = len(rest)
		}
		fragments = append(fragments, append(header, rest[:chunk]...))
		rest = rest[chunk:]
	}
	return fragments, nil
}

// Assembler reconstructs one message at a time from fragments. It is not safe for concurrent
// use; each connection owns its own Assembler and feeds it from a single receive loop.
type Assembler struct {
	// Staleness bounds how long the assembler holds a partial message before discarding it.
	// Zero means DefaultStaleness.
	Staleness time.Duration

	// MaxLength rejects messages whose declared total exceeds it. Zero means no limit.
	MaxLength int

	fragments map[uint16][]byte
	total     int
	haveTotal bool
	deadline  time.Time

	now func() time.Time
}

func (a *Assembler) clock() func() time.Time {
	if a.now == nil {
		return time.Now
	}
	return a.now
}

func (a *Assembler) staleness() time.Duration {
	if a.Staleness == 0 {
		return DefaultStaleness
	}
	return a.Staleness
}

// Reset discards any partially reassembled message.
func (a *Assembler) Reset() {
	a.fragments = nil
	a.total = 0
	a.haveTotal = false
	a.deadline = time.Time{}
}

// Accept buffers one inbound fragment. It returns the complete message once all fragments have
// arrived, or nil if more are expected. Structural violations return an error wrapping
// protocol.ErrMalformedMessage and discard the partial buffer.
func (a *Assembler) Accept(fragment []byte) ([]byte, error) {
	now := a.clock()()
	if a.fragments != nil && now.After(a.deadline) {
		a.Reset()
	}

	if len(fragment) <= indexLength {
		return nil, malformed("fragment of %d bytes has no payload", len(fragment))
	}
	index := binary.BigEndian.Uint16(fragment)
	payload := fragment[indexLength:]
	if _, ok := a.fragments[index]; ok {
		// Link-layer retransmit; the copy already buffered wins, including its declared total.
		return nil, nil
	}
	if index == 0 {
		if len(payload) <= totalLength {
			return nil, malformed("first fragment has no payload")
		}
		total := int(binary.BigEndian.Uint32(payload))
		if a.MaxLength > 0 && total > a.MaxLength {
			a.Reset()
			return nil, malformed("declared length %d exceeds limit %d", total, a.MaxLength)
		}
		a.total = total
		a.haveTotal = true
		payload = payload[totalLength:]
	}

	if a.fragments == nil {
		a.fragments = make(map[uint16][]byte)
		a.deadline = now.Add(a.staleness())
	}
	a.fragments[index] = payload

	return a.tryComplete()
}

// tryComplete checks whether a contiguous run of fragments starting at index zero covers the
// declared total, and if so returns the reassembled message.
func (a *Assembler) tryComplete() ([]byte, error) {
	if !a.haveTotal {
		return nil, nil
	}
	accumulated := 0
	var index uint16
	for {
		payload, ok := a.fragments[index]
		if !ok {
			return nil, nil
		}
		accumulated += len(payload)
		if accumulated == a.total && len(a.fragments) == int(index)+1 {
			break
		}
		if accumulated >= a.total {
			total := a.total
			a.Reset()
			return nil, malformed("fragment lengths disagree with declared total %d", total)
		}
		index++
	}

	message := make([]byte, 0, a.total)
	for i := uint16(0); ; i++ {
		message = append(message, a.fragments[i]...)
		if len(message) == a.total {
			break
		}
	}
	a.Reset()
	return message, nil
}

package authentication

import "encoding/binary"

// Signer authenticates outgoing messages under a session's send key, assigning each one a
// strictly increasing counter. Not safe for concurrent use; the dispatcher serializes
// per-vehicle sends.
type Signer struct {
	session Session
	counter uint32
}

// NewSigner wraps a session with an outgoing counter starting after initialCounter. The
// controller seeds this with zero; the vehicle side seeds it with the baseline it advertised in
// the key-exchange ack.
func NewSigner(session Session, initialCounter uint32) *Signer {
	return &Signer{session: session, counter: initialCounter}
}

// Counter returns the last counter value issued.
func (s *Signer) Counter() uint32 {
	return s.counter
}

// Sign allocates the next counter and computes the tag over base followed by the big-endian
// counter. Once the counter space is exhausted no further messages can be signed under this
// session.
func (s *Signer) Sign(base []byte) (uint32, []byte, error) {
	if s.counter == counterMax {
		return 0, nil, ErrCounterExhausted
	}
	s.counter++
	return s.counter, s.session.SendHMAC(signedData(base, s.counter)), nil
}

func signedData(base []byte, counter uint32) []byte {
	data := make([]byte, 0, len(base)+4)
	data = append(data, base...)
	return binary.BigEndian.AppendUint32(data, counter)
}

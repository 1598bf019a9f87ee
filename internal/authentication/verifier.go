package authentication

import "crypto/hmac"

// Verifier checks inbound message tags under a session's receive key and enforces
// strictly increasing counters. Not safe for concurrent use.
type Verifier struct {
	session     Session
	lastCounter uint32
}

// NewVerifier wraps a session with a replay window starting after initialCounter. The
// controller seeds this with the baseline counter from the vehicle's key-exchange ack.
func NewVerifier(session Session, initialCounter uint32) *Verifier {
	return &Verifier{session: session, lastCounter: initialCounter}
}

// LastCounter returns the highest counter accepted so far.
func (v *Verifier) LastCounter() uint32 {
	return v.lastCounter
}

// Verify checks the tag over base and counter, then enforces counter monotonicity. The tag is
// checked first so that replayed and forged messages are indistinguishable to a sender probing
// the counter state. State advances only when both checks pass.
func (v *Verifier) Verify(base []byte, counter uint32, tag []byte) error {
	expected := v.session.ReceiveHMAC(signedData(base, counter))
	if !hmac.Equal(expected, tag) {
		return ErrInvalidTag
	}
	if counter <= v.lastCounter {
		return ErrStaleCounter
	}
	v.lastCounter = counter
	return nil
}

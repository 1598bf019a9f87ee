package dispatcher

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vehiclelink/vehiclelink/internal/authentication"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

// sessionState tracks negotiation progress with one vehicle domain. Commands may only be signed
// in stateAuthorized.
type sessionState int

const (
	stateIdle sessionState = iota
	stateKeyExchangeSent
	stateKeyExchangeConfirmed
	stateAuthorized
	stateFailed
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateKeyExchangeSent:
		return "key-exchange-sent"
	case stateKeyExchangeConfirmed:
		return "key-exchange-confirmed"
	case stateAuthorized:
		return "authorized"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CacheEntry contains session state for one vehicle domain, allowing a client to resume without
// a handshake round trip.
type CacheEntry struct {
	CreatedAt   time.Time `json:"created_at"`
	Domain      int       `json:"domain"`
	SessionInfo []byte    `json:"data"`
}

// sessionRecord is the JSON layout of CacheEntry.SessionInfo.
type sessionRecord struct {
	Epoch          []byte          `json:"epoch"`
	PeerPublicKey  []byte          `json:"peer_public_key"`
	PeerIdentity   []byte          `json:"peer_identity,omitempty"`
	SendCounter    uint32          `json:"send_counter"`
	ReceiveCounter uint32          `json:"receive_counter"`
	Keys           json.RawMessage `json:"keys"`
}

// session owns the cryptographic context for one vehicle domain. All state transitions happen
// under lock; the lock is never held across I/O.
type session struct {
	lock sync.Mutex

	domain   protocol.Domain
	lifetime time.Duration

	state    sessionState
	crypto   authentication.Session
	signer   *authentication.Signer
	verifier *authentication.Verifier

	ephemeral  authentication.ECDHPrivateKey
	peerPublic []byte
	epoch      [wire.EpochLength]byte

	// vehicleKey is the pinned long-term vehicle key, or nil to accept any vehicle identity.
	// peerIdentity records the identity the vehicle proved during the handshake.
	vehicleKey   []byte
	peerIdentity []byte

	handshakeID [wire.RequestIDLength]byte
	challenge   [wire.ChallengeLength]byte

	createdAt time.Time

	// negotiationLock serializes StartSession callers without blocking the receive loop, which
	// only needs the state lock.
	negotiationLock sync.Mutex

	readySignal chan struct{}
	signaled    bool
	lastErr     error
}

func newSession(domain protocol.Domain, lifetime time.Duration, vehicleKey []byte) *session {
	return &session{
		domain:      domain,
		lifetime:    lifetime,
		vehicleKey:  vehicleKey,
		readySignal: make(chan struct{}),
	}
}

// signalLocked unblocks goroutines waiting on the handshake outcome. Idempotent.
func (s *session) signalLocked() {
	if !s.signaled {
		s.signaled = true
		close(s.readySignal)
	}
}

func (s *session) failLocked(err error) {
	s.state = stateFailed
	s.lastErr = err
	s.crypto = nil
	s.signer = nil
	s.verifier = nil
	s.ephemeral = nil
	s.signalLocked()
}

// invalidate tears the session down. The next command triggers a fresh handshake.
func (s *session) invalidate(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failLocked(err)
}

func (s *session) authorizedLocked(now time.Time) bool {
	if s.state != stateAuthorized {
		return false
	}
	if s.lifetime > 0 && now.After(s.createdAt.Add(s.lifetime)) {
		return false
	}
	return true
}

func (s *session) authorized(now time.Time) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.authorizedLocked(now)
}

// handshakeResult reports the outcome after readySignal closes.
func (s *session) handshakeResult() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == stateAuthorized {
		return nil
	}
	if s.lastErr != nil {
		return s.lastErr
	}
	return protocol.ErrNoSession
}

// beginHandshake discards any prior context and produces a key exchange envelope carrying fresh
// ephemeral material, the controller's long-term public key, and a proof of possession binding
// the two. Ephemeral keys are never reused across attempts. The returned channel closes when the
// handshake reaches a terminal state.
func (s *session) beginHandshake(identity authentication.ECDHPrivateKey) (*wire.Envelope, <-chan struct{}, error) {
	if identity == nil {
		return nil, nil, protocol.ErrRequiresKey
	}
	ephemeral, err := authentication.NewECDHPrivateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, err := rand.Read(s.challenge[:]); err != nil {
		return nil, nil, err
	}
	if _, err := rand.Read(s.handshakeID[:]); err != nil {
		return nil, nil, err
	}
	proof, err := authentication.SignIdentityProof(rand.Reader, identity, ephemeral.PublicBytes(), s.challenge[:])
	if err != nil {
		return nil, nil, err
	}

	s.ephemeral = ephemeral
	s.crypto = nil
	s.signer = nil
	s.verifier = nil
	s.lastErr = nil
	if s.signaled {
		s.readySignal = make(chan struct{})
		s.signaled = false
	}

	exchange := wire.Handshake{
		Type:        wire.HandshakeKeyExchange,
		PublicKey:   ephemeral.PublicBytes(),
		Challenge:   s.challenge,
		IdentityKey: identity.PublicBytes(),
		Proof:       proof,
	}
	envelope, err := wire.NewHandshakeEnvelope(s.domain, &exchange, s.handshakeID)
	if err != nil {
		return nil, nil, err
	}
	s.state = stateKeyExchangeSent
	return envelope, s.readySignal, nil
}

// processHandshake advances the state machine on an inbound handshake envelope. If the returned
// envelope is non-nil the caller must transmit it to the vehicle.
func (s *session) processHandshake(envelope *wire.Envelope) (*wire.Envelope, error) {
	message, err := wire.DecodeHandshake(envelope.Payload)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if envelope.RequestID != s.handshakeID {
		// Response to an abandoned attempt; the current attempt is unaffected.
		return nil, nil
	}

	switch message.Type {
	case wire.HandshakeKeyExchangeAck:
		return s.processKeyExchangeAckLocked(message)
	case wire.HandshakeSessionConfirm:
		return nil, s.processSessionConfirmLocked(envelope, message)
	}
	return nil, fmt.Errorf("%w: unexpected handshake type %d from vehicle",
		protocol.ErrMalformedMessage, message.Type)
}

func (s *session) processKeyExchangeAckLocked(message *wire.Handshake) (*wire.Envelope, error) {
	if s.state != stateKeyExchangeSent {
		return nil, nil
	}
	if message.Status == wire.HandshakeStatusKeyNotEnrolled {
		s.failLocked(protocol.ErrKeyNotPaired)
		return nil, protocol.ErrKeyNotPaired
	}
	if message.Challenge != s.challenge {
		s.failLocked(protocol.ErrAuthenticationFailed)
		return nil, fmt.Errorf("%w: key exchange ack echoed wrong challenge", protocol.ErrAuthenticationFailed)
	}
	if err := authentication.VerifyIdentityProof(message.IdentityKey, message.PublicKey, s.challenge[:], message.Proof); err != nil {
		s.failLocked(protocol.ErrAuthenticationFailed)
		return nil, fmt.Errorf("%w: vehicle identity proof did not verify", protocol.ErrAuthenticationFailed)
	}
	if s.vehicleKey != nil && !bytes.Equal(s.vehicleKey, message.IdentityKey) {
		s.failLocked(protocol.ErrUnexpectedPublicKey)
		return nil, protocol.ErrUnexpectedPublicKey
	}

	salt := authentication.SessionSalt(message.Epoch[:], s.ephemeral.PublicBytes(), message.PublicKey)
	crypto, err := s.ephemeral.Exchange(message.PublicKey, salt, authentication.RoleController)
	if err != nil {
		s.failLocked(err)
		return nil, err
	}
	s.crypto = crypto
	s.signer = authentication.NewSigner(crypto, 0)
	s.verifier = authentication.NewVerifier(crypto, message.Counter)
	s.peerPublic = message.PublicKey
	s.peerIdentity = message.IdentityKey
	s.epoch = message.Epoch
	s.createdAt = time.Now()

	confirm := wire.Handshake{Type: wire.HandshakeSessionConfirm, Challenge: s.challenge}
	envelope, err := wire.NewHandshakeEnvelope(s.domain, &confirm, s.handshakeID)
	if err != nil {
		s.failLocked(err)
		return nil, err
	}
	if err := s.signEnvelopeLocked(envelope); err != nil {
		s.failLocked(err)
		return nil, err
	}
	s.state = stateKeyExchangeConfirmed
	return envelope, nil
}

func (s *session) processSessionConfirmLocked(envelope *wire.Envelope, message *wire.Handshake) error {
	if s.state != stateKeyExchangeConfirmed {
		return nil
	}
	if envelope.Flags&wire.FlagSigned == 0 {
		s.failLocked(protocol.ErrAuthenticationFailed)
		return fmt.Errorf("%w: unsigned session confirmation", protocol.ErrAuthenticationFailed)
	}
	if err := s.verifier.Verify(envelope.SigningBase(), envelope.Counter, envelope.Tag); err != nil {
		s.failLocked(protocol.ErrAuthenticationFailed)
		return fmt.Errorf("%w: session confirmation did not verify", protocol.ErrAuthenticationFailed)
	}
	if message.Challenge != s.challenge {
		s.failLocked(protocol.ErrAuthenticationFailed)
		return fmt.Errorf("%w: session confirmation echoed wrong challenge", protocol.ErrAuthenticationFailed)
	}
	s.state = stateAuthorized
	s.signalLocked()
	return nil
}

func (s *session) signEnvelopeLocked(envelope *wire.Envelope) error {
	envelope.Flags |= wire.FlagSigned
	counter, tag, err := s.signer.Sign(envelope.SigningBase())
	if err != nil {
		envelope.Flags &^= wire.FlagSigned
		return err
	}
	envelope.Counter = counter
	envelope.Tag = tag
	return nil
}

// authorize signs an outgoing command envelope under the session keys. The envelope must not be
// mutated after this returns; re-sending requires re-signing with a fresh counter.
func (s *session) authorize(envelope *wire.Envelope) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.authorizedLocked(time.Now()) {
		return protocol.ErrNoSession
	}
	if err := s.signEnvelopeLocked(envelope); err != nil {
		if errors.Is(err, authentication.ErrCounterExhausted) {
			s.failLocked(protocol.ErrCounterExhausted)
			return protocol.ErrCounterExhausted
		}
		return err
	}
	return nil
}

// verify authenticates an inbound signed envelope. Integrity violations invalidate the session;
// a forged or replayed message never advances counters, and the next command renegotiates.
func (s *session) verify(envelope *wire.Envelope) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != stateAuthorized {
		return protocol.ErrNoSession
	}
	err := s.verifier.Verify(envelope.SigningBase(), envelope.Counter, envelope.Tag)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authentication.ErrStaleCounter):
		s.failLocked(protocol.ErrReplayRejected)
		return protocol.ErrReplayRejected
	default:
		s.failLocked(protocol.ErrAuthenticationFailed)
		return protocol.ErrAuthenticationFailed
	}
}

// export serializes the session for caching, or returns nil if there is nothing worth caching.
// export serializes the session state along with the session's creation time. The creation time
// travels with the cache entry so that restoring cannot extend the session's lifetime.
func (s *session) export() ([]byte, time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != stateAuthorized {
		return nil, time.Time{}
	}
	keys, err := authentication.ExportSessionState(s.crypto)
	if err != nil {
		return nil, time.Time{}
	}
	record := sessionRecord{
		Epoch:          s.epoch[:],
		PeerPublicKey:  s.peerPublic,
		PeerIdentity:   s.peerIdentity,
		SendCounter:    s.signer.Counter(),
		ReceiveCounter: s.verifier.LastCounter(),
		Keys:           keys,
	}
	encoded, err := json.Marshal(&record)
	if err != nil {
		return nil, time.Time{}
	}
	return encoded, s.createdAt
}

// restore loads exported state, placing the session directly in stateAuthorized.
func (s *session) restore(info []byte, createdAt time.Time) error {
	var record sessionRecord
	if err := json.Unmarshal(info, &record); err != nil {
		return fmt.Errorf("invalid cache: %w", err)
	}
	if len(record.Epoch) != wire.EpochLength {
		return fmt.Errorf("invalid cache: bad epoch length %d", len(record.Epoch))
	}
	if s.vehicleKey != nil && record.PeerIdentity != nil && !bytes.Equal(s.vehicleKey, record.PeerIdentity) {
		return protocol.ErrUnexpectedPublicKey
	}
	crypto, err := authentication.ImportSessionState(record.Keys)
	if err != nil {
		return fmt.Errorf("invalid cache: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.crypto = crypto
	s.signer = authentication.NewSigner(crypto, record.SendCounter)
	s.verifier = authentication.NewVerifier(crypto, record.ReceiveCounter)
	s.peerPublic = record.PeerPublicKey
	s.peerIdentity = record.PeerIdentity
	copy(s.epoch[:], record.Epoch)
	s.createdAt = createdAt
	s.lastErr = nil
	s.state = stateAuthorized
	s.signalLocked()
	return nil
}

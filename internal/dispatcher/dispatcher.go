// Package dispatcher drives authenticated command exchange with a single vehicle: it negotiates
// sessions per domain, signs and correlates outgoing commands, authenticates inbound traffic,
// and routes unsolicited status updates to the caller.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vehiclelink/vehiclelink/internal/authentication"
	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/connector"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

const (
	// defaultSessionLifetime bounds how long a session signs commands before the dispatcher
	// renegotiates it.
	defaultSessionLifetime = 5 * time.Minute

	// defaultHandshakeTimeout bounds a single negotiation attempt. An attempt that misses the
	// deadline is abandoned and retried with fresh ephemeral keys.
	defaultHandshakeTimeout = 5 * time.Second

	// handshakeAttempts caps retries before the failure becomes caller visible.
	handshakeAttempts = 3

	updatesBufferSize = 8
)

// StatusUpdate is an authenticated vehicle message that does not correspond to any outstanding
// request, such as a lock-state change announcement.
type StatusUpdate struct {
	Domain protocol.Domain
	Update *wire.Command
}

// Dispatcher objects send signed commands to a vehicle and route incoming messages to the
// appropriate pending request. At most one command exchange is in flight at a time; concurrent
// callers are queued so that counters appear on the wire in order.
type Dispatcher struct {
	conn       connector.Connector
	privateKey authentication.ECDHPrivateKey

	sessionLifetime  time.Duration
	handshakeTimeout time.Duration

	doneLock  sync.Mutex
	terminate chan struct{}
	done      chan bool

	sessionLock sync.Mutex
	sessions    map[protocol.Domain]*session
	vehicleKey  []byte

	handlerLock sync.Mutex
	handlers    map[[wire.RequestIDLength]byte]*pendingRequest

	inFlight sync.Mutex

	updates chan StatusUpdate
}

// New creates a Dispatcher from a Connector. The private key is the controller's long-term
// identity, used for pairing; session keys are ephemeral and negotiated per handshake.
func New(conn connector.Connector, privateKey authentication.ECDHPrivateKey) (*Dispatcher, error) {
	return &Dispatcher{
		conn:             conn,
		privateKey:       privateKey,
		sessionLifetime:  defaultSessionLifetime,
		handshakeTimeout: defaultHandshakeTimeout,
		sessions:         make(map[protocol.Domain]*session),
		handlers:         make(map[[wire.RequestIDLength]byte]*pendingRequest),
		done:             make(chan bool),
		updates:          make(chan StatusUpdate, updatesBufferSize),
	}, nil
}

// SetSessionLifetime overrides the window after which a session is renegotiated before use.
func (d *Dispatcher) SetSessionLifetime(lifetime time.Duration) {
	if lifetime > 0 {
		d.sessionLifetime = lifetime
	}
}

// SetVehicleKey pins the vehicle's long-term public key. Handshakes with a vehicle that proves
// a different identity fail with protocol.ErrUnexpectedPublicKey. Call before negotiating
// sessions; existing sessions are unaffected.
func (d *Dispatcher) SetVehicleKey(publicKey []byte) {
	d.sessionLock.Lock()
	defer d.sessionLock.Unlock()
	d.vehicleKey = publicKey
}

// VehicleIdentity returns the long-term public key the vehicle proved during session
// negotiation, or nil if no session has been negotiated.
func (d *Dispatcher) VehicleIdentity() []byte {
	d.sessionLock.Lock()
	defer d.sessionLock.Unlock()
	for _, s := range d.sessions {
		s.lock.Lock()
		identity := s.peerIdentity
		s.lock.Unlock()
		if identity != nil {
			return identity
		}
	}
	return nil
}

// RetryInterval fetches the transport-layer dependent recommended delay between retry attempts.
func (d *Dispatcher) RetryInterval() time.Duration {
	return d.conn.RetryInterval()
}

// VIN returns the identity of the connected vehicle.
func (d *Dispatcher) VIN() string {
	return d.conn.VIN()
}

// Updates returns the channel carrying authenticated unsolicited vehicle messages. Updates are
// dropped if the receiver falls behind.
func (d *Dispatcher) Updates() <-chan StatusUpdate {
	return d.updates
}

// Start runs d's listen loop in a new goroutine. Returns an error if d does not signal it's
// ready before ctx expires.
func (d *Dispatcher) Start(ctx context.Context) error {
	ready := make(chan struct{})
	go d.listen(ready)
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) listen(ready chan<- struct{}) {
	log.Info("Starting dispatcher service for %s...", d.conn.VIN())
	d.doneLock.Lock()
	if d.terminate == nil {
		d.terminate = make(chan struct{})
	} else {
		d.doneLock.Unlock()
		return
	}
	terminate := d.terminate
	d.doneLock.Unlock()
	listening := make(chan struct{}, 2)
	listening <- struct{}{}
	defer func() {
		d.done <- true
	}()
	for {
		select {
		case messageBytes, open := <-d.conn.Receive():
			if !open {
				return
			}
			envelope, err := wire.Decode(messageBytes)
			if err != nil {
				log.Warning("Dropping unparseable message: %s", err)
				continue
			}
			d.process(envelope)
		case <-terminate:
			return
		case <-listening:
			close(ready)
		}
	}
}

// Stop signals the listen goroutine to exit.
func (d *Dispatcher) Stop() {
	d.doneLock.Lock()
	defer d.doneLock.Unlock()
	if d.terminate != nil {
		close(d.terminate)
		d.terminate = nil
		<-d.done
	}
}

func (d *Dispatcher) listening() bool {
	d.doneLock.Lock()
	defer d.doneLock.Unlock()
	return d.terminate != nil
}

// session returns the session object for a domain, creating it if needed.
func (d *Dispatcher) session(domain protocol.Domain) *session {
	d.sessionLock.Lock()
	defer d.sessionLock.Unlock()
	s, ok := d.sessions[domain]
	if !ok {
		s = newSession(domain, d.sessionLifetime, d.vehicleKey)
		d.sessions[domain] = s
	}
	return s
}

func (d *Dispatcher) lookupSession(domain protocol.Domain) *session {
	d.sessionLock.Lock()
	defer d.sessionLock.Unlock()
	return d.sessions[domain]
}

// StartSession negotiates an authorized session with a vehicle domain, retrying failed attempts
// with fresh ephemeral keys. Returns immediately if a valid session already exists.
func (d *Dispatcher) StartSession(ctx context.Context, domain protocol.Domain) error {
	if !d.listening() {
		return protocol.ErrNotConnected
	}
	s := d.session(domain)

	s.negotiationLock.Lock()
	defer s.negotiationLock.Unlock()

	if s.authorized(time.Now()) {
		return nil
	}

	var lastErr error = protocol.ErrHandshakeTimeout
	for attempt := 0; attempt < handshakeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.conn.RetryInterval()):
			case <-ctx.Done():
				return handshakeContextError(ctx.Err())
			}
		}
		envelope, readySignal, err := s.beginHandshake(d.privateKey)
		if err != nil {
			return err
		}
		log.Debug("[%02x] Starting handshake with %s domain (attempt %d)", envelope.RequestID, domain, attempt+1)
		if err := d.transmit(ctx, envelope); err != nil {
			return err
		}
		select {
		case <-readySignal:
			err := s.handshakeResult()
			if err == nil {
				log.Info("[%02x] Session with %s domain authorized", envelope.RequestID, domain)
				return nil
			}
			if !protocol.Temporary(err) {
				return err
			}
			lastErr = err
		case <-time.After(d.handshakeTimeout):
			log.Warning("[%02x] Handshake with %s domain timed out", envelope.RequestID, domain)
			lastErr = protocol.ErrHandshakeTimeout
		case <-ctx.Done():
			return handshakeContextError(ctx.Err())
		}
	}
	s.invalidate(lastErr)
	return lastErr
}

func handshakeContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.ErrHandshakeTimeout
	}
	return err
}

// StartSessions negotiates sessions with the provided vehicle domains (or all command domains,
// if domains is nil).
//
// If multiple handshakes fail, only returns the first error.
func (d *Dispatcher) StartSessions(ctx context.Context, domains []protocol.Domain) error {
	aggregateContext, cancel := context.WithCancel(ctx)
	defer cancel()
	if domains == nil {
		domains = []protocol.Domain{protocol.DomainAccessControl, protocol.DomainInfotainment}
	}
	results := make(chan error)
	for _, domain := range domains {
		go func(dom protocol.Domain) {
			results <- d.StartSession(aggregateContext, dom)
		}(domain)
	}
	var err error
	for i := 0; i < len(domains); i++ {
		err = <-results
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return err
}

// Execute sends a signed command and blocks until the vehicle responds, the context expires, or
// the session fails an integrity check. Commands to the same vehicle are serialized; the second
// of two back-to-back commands is sent only after the first resolves.
//
// A command rejected for authentication or replay reasons is never retried automatically: the
// vehicle may already have applied a side-effecting action.
func (d *Dispatcher) Execute(ctx context.Context, command *wire.Command) (*wire.Command, error) {
	d.inFlight.Lock()
	defer d.inFlight.Unlock()

	if !command.Domain.Valid() || command.Domain == protocol.DomainBroadcast {
		return nil, protocol.NewError("command requires a destination domain", false, false)
	}
	if err := d.StartSession(ctx, command.Domain); err != nil {
		return nil, err
	}
	s := d.session(command.Domain)

	envelope, err := wire.NewCommandEnvelope(command, newRequestID())
	if err != nil {
		return nil, err
	}
	if err := s.authorize(envelope); err != nil {
		return nil, err
	}
	return d.exchange(ctx, envelope)
}

// ExecuteUnauthenticated sends a command without a session signature. The vehicle only honors a
// narrow set of such commands, such as key enrollment during pairing.
func (d *Dispatcher) ExecuteUnauthenticated(ctx context.Context, command *wire.Command) (*wire.Command, error) {
	d.inFlight.Lock()
	defer d.inFlight.Unlock()

	if !d.listening() {
		return nil, protocol.ErrNotConnected
	}
	envelope, err := wire.NewCommandEnvelope(command, newRequestID())
	if err != nil {
		return nil, err
	}
	return d.exchange(ctx, envelope)
}

func (d *Dispatcher) exchange(ctx context.Context, envelope *wire.Envelope) (*wire.Command, error) {
	pending := d.createHandler(envelope.RequestID, envelope.Domain)
	defer pending.Close()

	if err := d.transmit(ctx, envelope); err != nil {
		return nil, err
	}
	select {
	case res := <-pending.ch:
		return res.reply, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, protocol.ErrTimeout
		}
		return nil, &protocol.CommandError{Err: ctx.Err(), PossibleSuccess: true, PossibleTemporary: false}
	}
}

// transmit encodes and sends an envelope, retrying transient link failures until ctx expires.
// Re-encoding is deterministic, so a retry is bit-identical to the original transmission.
func (d *Dispatcher) transmit(ctx context.Context, envelope *wire.Envelope) error {
	encoded, err := envelope.Encode()
	if err != nil {
		return err
	}
	for {
		err = d.conn.Send(ctx, encoded)
		if err == nil {
			return nil
		}
		if !protocol.ShouldRetry(err) {
			log.Warning("[%02x] Terminal transmission error: %s", envelope.RequestID, err)
			return err
		}
		log.Debug("[%02x] Retrying transmission after error: %s", envelope.RequestID, err)
		select {
		case <-ctx.Done():
			return &protocol.CommandError{Err: ctx.Err(), PossibleSuccess: false, PossibleTemporary: true}
		case <-time.After(d.conn.RetryInterval()):
		}
	}
}

func (d *Dispatcher) createHandler(id [wire.RequestIDLength]byte, domain protocol.Domain) *pendingRequest {
	d.handlerLock.Lock()
	defer d.handlerLock.Unlock()
	pending := &pendingRequest{
		id:         id,
		domain:     domain,
		ch:         make(chan result, 1),
		dispatcher: d,
		sentAt:     time.Now(),
	}
	d.handlers[id] = pending
	return pending
}

func (d *Dispatcher) closeHandler(pending *pendingRequest) {
	d.handlerLock.Lock()
	delete(d.handlers, pending.id)
	d.handlerLock.Unlock()
}

// takeHandler removes and returns the pending request matching id, if any. Removal before
// delivery guarantees each request resolves at most once.
func (d *Dispatcher) takeHandler(id [wire.RequestIDLength]byte) *pendingRequest {
	d.handlerLock.Lock()
	defer d.handlerLock.Unlock()
	pending, ok := d.handlers[id]
	if !ok {
		return nil
	}
	delete(d.handlers, id)
	return pending
}

func (d *Dispatcher) process(envelope *wire.Envelope) {
	if envelope.Flags&wire.FlagHandshake != 0 {
		d.processHandshake(envelope)
		return
	}
	if envelope.Flags&wire.FlagSigned != 0 {
		s := d.lookupSession(envelope.Domain)
		if s == nil {
			log.Warning("[%02x] Dropping signed message from %s domain without a session", envelope.RequestID, envelope.Domain)
			return
		}
		if err := s.verify(envelope); err != nil {
			log.Warning("[%02x] Rejecting message from %s domain: %s", envelope.RequestID, envelope.Domain, err)
			if pending := d.takeHandler(envelope.RequestID); pending != nil {
				pending.ch <- result{err: err}
			}
			return
		}
		d.deliver(envelope)
		return
	}
	// Unsigned non-handshake envelopes only answer unauthenticated requests (pairing). Anything
	// unsolicited and unsigned is dropped.
	if pending := d.takeHandler(envelope.RequestID); pending != nil {
		d.deliverTo(pending, envelope)
	} else {
		log.Warning("[%02x] Dropping unsolicited unsigned message from %s domain", envelope.RequestID, envelope.Domain)
	}
}

func (d *Dispatcher) processHandshake(envelope *wire.Envelope) {
	s := d.lookupSession(envelope.Domain)
	if s == nil {
		log.Warning("[%02x] Dropping handshake message from %s domain without negotiation in progress", envelope.RequestID, envelope.Domain)
		return
	}
	reply, err := s.processHandshake(envelope)
	if err != nil {
		log.Warning("[%02x] Handshake with %s domain failed: %s", envelope.RequestID, envelope.Domain, err)
		return
	}
	if reply != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.handshakeTimeout)
		defer cancel()
		if err := d.transmit(ctx, reply); err != nil {
			log.Warning("[%02x] Failed to send session confirmation: %s", envelope.RequestID, err)
			s.invalidate(&protocol.LinkError{Details: err})
		}
	}
}

func (d *Dispatcher) deliver(envelope *wire.Envelope) {
	pending := d.takeHandler(envelope.RequestID)
	if pending != nil {
		d.deliverTo(pending, envelope)
		return
	}
	update, err := wire.DecodeCommand(envelope.Domain, envelope.Payload)
	if err != nil {
		log.Warning("[%02x] Dropping undecodable status update: %s", envelope.RequestID, err)
		return
	}
	select {
	case d.updates <- StatusUpdate{Domain: envelope.Domain, Update: update}:
	default:
		log.Error("[%02x] Dropping status update because update queue is full", envelope.RequestID)
	}
}

func (d *Dispatcher) deliverTo(pending *pendingRequest, envelope *wire.Envelope) {
	reply, err := wire.DecodeCommand(envelope.Domain, envelope.Payload)
	if err != nil {
		pending.ch <- result{err: err}
		return
	}
	pending.ch <- result{reply: reply}
}

func newRequestID() [wire.RequestIDLength]byte {
	return [wire.RequestIDLength]byte(uuid.New())
}

// Cache returns CacheEntry objects containing session state for the authenticated connections
// to a vehicle's domains.
func (d *Dispatcher) Cache() []CacheEntry {
	d.sessionLock.Lock()
	defer d.sessionLock.Unlock()
	var entries []CacheEntry
	for domain, s := range d.sessions {
		encoded, createdAt := s.export()
		if encoded == nil {
			continue
		}
		entries = append(entries, CacheEntry{
			CreatedAt:   createdAt,
			Domain:      int(domain),
			SessionInfo: encoded,
		})
	}
	return entries
}

// LoadCache initializes or overwrites d's sessions. This allows resuming a session with a
// vehicle without requiring a handshake round trip.
func (d *Dispatcher) LoadCache(entries []CacheEntry) error {
	d.sessionLock.Lock()
	defer d.sessionLock.Unlock()
	sessions := make(map[protocol.Domain]*session)
	for _, entry := range entries {
		domain := protocol.Domain(entry.Domain)
		if !domain.Valid() {
			return errors.New("invalid cache: unknown domain")
		}
		s := newSession(domain, d.sessionLifetime, d.vehicleKey)
		if err := s.restore(entry.SessionInfo, entry.CreatedAt); err != nil {
			return err
		}
		sessions[domain] = s
	}
	d.sessions = sessions
	return nil
}

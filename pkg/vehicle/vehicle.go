// Package vehicle exposes a high-level API for sending authenticated commands to a vehicle over
// a local radio link.
package vehicle

import (
	"context"
	"crypto/ecdh"
	"time"

	"github.com/vehiclelink/vehiclelink/internal/authentication"
	"github.com/vehiclelink/vehiclelink/internal/dispatcher"
	"github.com/vehiclelink/vehiclelink/pkg/cache"
	"github.com/vehiclelink/vehiclelink/pkg/connector"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
)

// sender provides an interface that handles the envelope protocol layer.
type sender interface {
	// Start causes the sender to listen for messages from the vehicle in a separate goroutine.
	// Returns an error if ctx expires before the sender is ready to receive messages.
	Start(ctx context.Context) error

	// Stop the goroutine launched by Start.
	Stop()

	// Execute sends a signed command and blocks for the vehicle's response. The client must
	// have a private key available; sessions are negotiated on demand.
	Execute(ctx context.Context, command *wire.Command) (*wire.Command, error)

	// ExecuteUnauthenticated sends a command outside any session, such as a pairing request.
	ExecuteUnauthenticated(ctx context.Context, command *wire.Command) (*wire.Command, error)

	// StartSessions performs handshakes with the given vehicle domains so that subsequent
	// commands do not pay the negotiation round trips.
	StartSessions(ctx context.Context, domains []protocol.Domain) error

	// SetVehicleKey pins the vehicle's long-term public key; handshakes with a vehicle that
	// proves a different identity fail. VehicleIdentity returns the identity the vehicle
	// proved, or nil before any session is negotiated.
	SetVehicleKey(publicKey []byte)
	VehicleIdentity() []byte

	Cache() []dispatcher.CacheEntry
	LoadCache(entries []dispatcher.CacheEntry) error

	// Updates carries authenticated unsolicited messages from the vehicle.
	Updates() <-chan dispatcher.StatusUpdate

	// Returns the recommended retransmission interval for the Connector.
	RetryInterval() time.Duration
}

// A Vehicle represents a vehicle reachable over a local connection.
type Vehicle struct {
	dispatcher sender
	vin        string

	conn       connector.Connector
	privateKey authentication.ECDHPrivateKey
}

// NewVehicle creates a new Vehicle. The privateKey and sessionCache may be nil, but a vehicle
// without a private key can only send pairing requests.
func NewVehicle(conn connector.Connector, privateKey authentication.ECDHPrivateKey, sessionCache *cache.SessionCache) (*Vehicle, error) {
	dispatch, err := dispatcher.New(conn, privateKey)
	if err != nil {
		return nil, err
	}
	vin := conn.VIN()
	vehicle := &Vehicle{
		dispatcher: dispatch,
		vin:        vin,
		conn:       conn,
		privateKey: privateKey,
	}
	if sessionCache != nil {
		if sessions, ok := sessionCache.GetEntry(vin); ok {
			if err := dispatch.LoadCache(sessions); err != nil {
				return nil, err
			}
		}
	}
	return vehicle, nil
}

func (v *Vehicle) VIN() string {
	return v.vin
}

func (v *Vehicle) PrivateKeyAvailable() bool {
	return v.privateKey != nil
}

// SetVehicleKey pins the vehicle's long-term public key. Session negotiation with a vehicle
// presenting any other identity fails with [protocol.ErrUnexpectedPublicKey]. Call before
// Connect.
func (v *Vehicle) SetVehicleKey(publicKey *ecdh.PublicKey) {
	v.dispatcher.SetVehicleKey(publicKey.Bytes())
}

// VehicleKey returns the long-term public key the vehicle proved during session negotiation,
// or nil if no session has been established. Clients that have not pinned a key yet can pin
// this one.
func (v *Vehicle) VehicleKey() (*ecdh.PublicKey, error) {
	identity := v.dispatcher.VehicleIdentity()
	if identity == nil {
		return nil, nil
	}
	return ecdh.P256().NewPublicKey(identity)
}

// Connect opens a connection to the vehicle.
func (v *Vehicle) Connect(ctx context.Context) error {
	return v.dispatcher.Start(ctx)
}

// Disconnect closes the connection to v.
//
// Calling this method invokes the underlying [connector.Connector.Close] method. Multiple calls
// to Close() are safe, so it is safe to defer both this method and the Connector's Close();
// however, Disconnect must be invoked first.
func (v *Vehicle) Disconnect() {
	v.dispatcher.Stop()
	if v.conn != nil {
		v.conn.Close()
	}
}

// StartSession performs handshakes with the vehicle so that the client can begin sending
// authenticated commands. This will fail if the client's public key has not been paired with the
// vehicle. If domains is nil, the client establishes sessions with all command domains; a client
// that only interacts with the access control unit can avoid waking infotainment by passing a
// subset.
func (v *Vehicle) StartSession(ctx context.Context, domains []protocol.Domain) error {
	for {
		err := v.dispatcher.StartSessions(ctx, domains)
		if err == nil {
			return nil
		}
		if !protocol.ShouldRetry(err) {
			return err
		}
		select {
		case <-time.After(v.dispatcher.RetryInterval()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Updates returns the channel carrying authenticated unsolicited vehicle messages, such as
// lock-state change announcements.
func (v *Vehicle) Updates() <-chan dispatcher.StatusUpdate {
	return v.dispatcher.Updates()
}

// UpdateCachedSessions updates the session cache with the vehicle's active session state. Call
// before process exit to allow the next run to skip handshakes.
func (v *Vehicle) UpdateCachedSessions(c *cache.SessionCache) error {
	return c.Update(v.vin, v.dispatcher.Cache())
}

func (v *Vehicle) execute(ctx context.Context, command *wire.Command) error {
	_, err := v.dispatcher.Execute(ctx, command)
	return err
}

package bus

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/vehiclelink/vehiclelink/internal/dispatcher"
	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/metrics"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

// defaultCommandTimeout bounds a single bridged command, including on-demand session
// negotiation.
const defaultCommandTimeout = 30 * time.Second

// VehicleAPI is the slice of the vehicle API the bridge drives. *vehicle.Vehicle implements it.
type VehicleAPI interface {
	VIN() string
	Wake(ctx context.Context) error
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	OpenTrunk(ctx context.Context) error
	CloseTrunk(ctx context.Context) error
	OpenFrunk(ctx context.Context) error
	ChargePortOpen(ctx context.Context) error
	ChargePortClose(ctx context.Context) error
	ClimateOn(ctx context.Context) error
	ClimateOff(ctx context.Context) error
	ChargeStart(ctx context.Context) error
	ChargeStop(ctx context.Context) error
	ChangeChargeLimit(ctx context.Context, percent uint8) error
	SetChargingAmps(ctx context.Context, amps uint8) error
	Updates() <-chan dispatcher.StatusUpdate
}

// Bridge connects one vehicle to the message bus: command requests flow from the bus to the
// vehicle, results and unsolicited status updates flow back.
type Bridge struct {
	bus      *Client
	vehicle  VehicleAPI
	recorder *metrics.Recorder
	timeout  time.Duration
}

// NewBridge returns a Bridge for v. The recorder may be nil to disable metrics.
func NewBridge(client *Client, v VehicleAPI, recorder *metrics.Recorder) *Bridge {
	return &Bridge{
		bus:      client,
		vehicle:  v,
		recorder: recorder,
		timeout:  defaultCommandTimeout,
	}
}

// SetCommandTimeout overrides how long the bridge waits for a vehicle to acknowledge a command.
func (b *Bridge) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		b.timeout = d
	}
}

func uint8Param(params map[string]string, name string) (uint8, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	value, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid parameter %q: %s", name, err)
	}
	return uint8(value), nil
}

// dispatch maps a bus command name to a vehicle API call.
func (b *Bridge) dispatch(ctx context.Context, request CommandRequest) error {
	switch request.Command {
	case "wake":
		return b.vehicle.Wake(ctx)
	case "lock":
		return b.vehicle.Lock(ctx)
	case "unlock":
		return b.vehicle.Unlock(ctx)
	case "open_trunk":
		return b.vehicle.OpenTrunk(ctx)
	case "close_trunk":
		return b.vehicle.CloseTrunk(ctx)
	case "open_frunk":
		return b.vehicle.OpenFrunk(ctx)
	case "charge_port_open":
		return b.vehicle.ChargePortOpen(ctx)
	case "charge_port_close":
		return b.vehicle.ChargePortClose(ctx)
	case "climate_on":
		return b.vehicle.ClimateOn(ctx)
	case "climate_off":
		return b.vehicle.ClimateOff(ctx)
	case "charge_start":
		return b.vehicle.ChargeStart(ctx)
	case "charge_stop":
		return b.vehicle.ChargeStop(ctx)
	case "set_charge_limit":
		percent, err := uint8Param(request.Params, "percent")
		if err != nil {
			return err
		}
		return b.vehicle.ChangeChargeLimit(ctx, percent)
	case "set_charging_amps":
		amps, err := uint8Param(request.Params, "amps")
		if err != nil {
			return err
		}
		return b.vehicle.SetChargingAmps(ctx, amps)
	default:
		return fmt.Errorf("unrecognized command %q", request.Command)
	}
}

func (b *Bridge) handleCommand(ctx context.Context, request CommandRequest) {
	vin := b.vehicle.VIN()
	start := time.Now()
	commandCtx, cancel := context.WithTimeout(ctx, b.timeout)
	err := b.dispatch(commandCtx, request)
	cancel()
	b.recorder.RecordCommand(vin, request.Command, err, time.Since(start))

	result := Result{Command: request.Command, Success: err == nil}
	if err != nil {
		log.Error("command %s for %s failed: %s", request.Command, vin, err)
		result.Error = err.Error()
		result.MayHaveSucceeded = protocol.MayHaveSucceeded(err)
	}
	if err := b.bus.PublishResult(vin, result); err != nil {
		log.Error("failed to publish result for %s: %s", vin, err)
	}
}

// statusValues flattens an authenticated status update into the opaque key/value payload
// published on the bus. Parameter values are hex-encoded; interpreting them is up to consumers.
func statusValues(update dispatcher.StatusUpdate) map[string]string {
	values := map[string]string{
		"domain":    update.Domain.String(),
		"operation": fmt.Sprintf("%#04x", uint16(update.Update.Operation)),
	}
	for _, param := range update.Update.Parameters {
		values["param_"+strconv.Itoa(int(param.Key))] = hex.EncodeToString(param.Value)
	}
	return values
}

// Run subscribes to the vehicle's command topic and forwards status updates until ctx is
// canceled. Command requests are handled one at a time in arrival order; the dispatcher
// serializes them per vehicle anyway, and ordering on the wire must match ordering on the bus.
func (b *Bridge) Run(ctx context.Context) error {
	vin := b.vehicle.VIN()
	requests := make(chan CommandRequest, 16)
	err := b.bus.SubscribeCommands(vin, func(request CommandRequest) {
		select {
		case requests <- request:
		default:
			log.Warning("dropping command %q for %s: request queue full", request.Command, vin)
		}
	})
	if err != nil {
		return err
	}

	updates := b.vehicle.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case request := <-requests:
			b.handleCommand(ctx, request)
		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if err := b.bus.PublishStatus(vin, statusValues(update)); err != nil {
				log.Error("failed to publish status for %s: %s", vin, err)
			}
		}
	}
}

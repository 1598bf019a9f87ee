package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/protocol/wire"
	"github.com/vehiclelink/vehiclelink/pkg/vehicle"
)

var ErrUnknownCommand = errors.New("unrecognized command")

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error

type Command struct {
	help         string
	requiresAuth bool // True if the command requires an authenticated session with the vehicle
	domain       protocol.Domain
	args         []Argument
	handler      Handler
}

func parseUint8(value string) (uint8, error) {
	parsed, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("expected a number between 0 and 255: %s", value)
	}
	return uint8(parsed), nil
}

func printState(state *wire.Command) {
	fmt.Printf("operation: %#04x\n", uint16(state.Operation))
	for _, param := range state.Parameters {
		fmt.Printf("  param %d: %02x\n", param.Key, param.Value)
	}
}

var commands = map[string]*Command{
	"wake": {
		help:         "Wake the vehicle from sleep",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.Wake(ctx)
		},
	},
	"lock": {
		help:         "Lock the vehicle",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.Lock(ctx)
		},
	},
	"unlock": {
		help:         "Unlock the vehicle",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.Unlock(ctx)
		},
	},
	"trunk-open": {
		help:         "Open the trunk",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.OpenTrunk(ctx)
		},
	},
	"trunk-close": {
		help:         "Close the trunk (not available on all vehicle types)",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.CloseTrunk(ctx)
		},
	},
	"frunk-open": {
		help:         "Open the front trunk. There is no remote way to close the front trunk!",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.OpenFrunk(ctx)
		},
	},
	"charge-port-open": {
		help:         "Open the charge port",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.ChargePortOpen(ctx)
		},
	},
	"charge-port-close": {
		help:         "Close the charge port",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.ChargePortClose(ctx)
		},
	},
	"climate-on": {
		help:         "Turn on climate control",
		requiresAuth: true,
		domain:       protocol.DomainInfotainment,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.ClimateOn(ctx)
		},
	},
	"climate-off": {
		help:         "Turn off climate control",
		requiresAuth: true,
		domain:       protocol.DomainInfotainment,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.ClimateOff(ctx)
		},
	},
	"charging-start": {
		help:         "Start charging",
		requiresAuth: true,
		domain:       protocol.DomainInfotainment,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.ChargeStart(ctx)
		},
	},
	"charging-stop": {
		help:         "Stop charging",
		requiresAuth: true,
		domain:       protocol.DomainInfotainment,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			return car.ChargeStop(ctx)
		},
	},
	"charging-set-limit": {
		help:         "Set the charge limit to PERCENT",
		requiresAuth: true,
		domain:       protocol.DomainInfotainment,
		args: []Argument{
			{name: "PERCENT", help: "Charging limit"},
		},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			limit, err := parseUint8(args["PERCENT"])
			if err != nil {
				return err
			}
			return car.ChangeChargeLimit(ctx, limit)
		},
	},
	"charging-set-amps": {
		help:         "Set the charging current to AMPS",
		requiresAuth: true,
		domain:       protocol.DomainInfotainment,
		args: []Argument{
			{name: "AMPS", help: "Charging current"},
		},
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			amps, err := parseUint8(args["AMPS"])
			if err != nil {
				return err
			}
			return car.SetChargingAmps(ctx, amps)
		},
	},
	"security-status": {
		help:         "Fetch lock and closure state",
		requiresAuth: true,
		domain:       protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			state, err := car.SecurityStatus(ctx)
			if err != nil {
				return err
			}
			printState(state)
			return nil
		},
	},
	"charge-state": {
		help:         "Fetch charging state",
		requiresAuth: true,
		domain:       protocol.DomainInfotainment,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			state, err := car.ChargeState(ctx)
			if err != nil {
				return err
			}
			printState(state)
			return nil
		},
	},
	"pair": {
		help:   "Ask the vehicle to enroll the controller's public key. Requires owner approval on the vehicle.",
		domain: protocol.DomainAccessControl,
		handler: func(ctx context.Context, car *vehicle.Vehicle, args map[string]string) error {
			if err := car.SendPairingRequest(ctx); err != nil {
				return err
			}
			fmt.Printf("Sent pairing request to %s. Approve it from the vehicle to complete enrollment.\n", car.VIN())
			return nil
		},
	},
}

func printCommands(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := commands[name]
		fmt.Fprintf(w, "  %s", name)
		for _, arg := range info.args {
			fmt.Fprintf(w, " %s", arg.name)
		}
		fmt.Fprintf(w, "\n      %s\n", info.help)
	}
}

func execute(ctx context.Context, car *vehicle.Vehicle, args []string) error {
	if len(args) == 0 {
		return ErrUnknownCommand
	}
	if args[0] == "help" {
		printCommands(os.Stdout)
		return nil
	}
	info, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
	}
	if len(args)-1 != len(info.args) {
		parts := make([]string, 0, len(info.args)+1)
		parts = append(parts, args[0])
		for _, arg := range info.args {
			parts = append(parts, arg.name)
		}
		return fmt.Errorf("usage: %s", strings.Join(parts, " "))
	}
	keyedArgs := make(map[string]string, len(info.args))
	for i, arg := range info.args {
		keyedArgs[arg.name] = args[i+1]
	}
	return info.handler(ctx, car, keyedArgs)
}

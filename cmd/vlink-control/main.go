// vlink-control sends commands to a vehicle over BLE.
package main

import (
	"bufio"
	"context"
	"crypto/ecdh"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/shlex"

	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/cache"
	"github.com/vehiclelink/vehiclelink/pkg/connector/ble"
	"github.com/vehiclelink/vehiclelink/pkg/connector/ble/goble"
	"github.com/vehiclelink/vehiclelink/pkg/keystore"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
	"github.com/vehiclelink/vehiclelink/pkg/vehicle"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Sends commands to a vehicle over BLE. When invoked without a COMMAND, the program starts an
interactive shell. Type "help" inside the shell to list commands, "exit" to quit.

Commands marked as authenticated require a private key, provided either through the system
keyring (-key-name) or a PEM file (-key-file).`

func cliUsage() {
	usage(flag.CommandLine.Output())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] [COMMAND [ARG...]]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	printCommands(w)
}

func runCommand(car *vehicle.Vehicle, args []string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := execute(ctx, car, args); err != nil {
		if protocol.MayHaveSucceeded(err) {
			writeErr("Couldn't verify success: %s", err)
		} else if errors.Is(err, protocol.ErrNoSession) {
			writeErr("You must provide a private key with -key-name or -key-file to execute this command")
		} else {
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(car *vehicle.Vehicle, timeout time.Duration) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		runCommand(car, args, timeout)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		vin            string
		keyName        string
		keyFile        string
		backendName    string
		adapterID      string
		cacheFile      string
		connectTimeout time.Duration
		commandTimeout time.Duration
		debug          bool
	)

	flag.StringVar(&vin, "vin", "", "Vehicle identification number. Defaults to $VLINK_VIN.")
	flag.StringVar(&keyName, "key-name", "", "Name of controller private key in the system keyring")
	flag.StringVar(&keyFile, "key-file", "", "PEM file containing the controller private key")
	flag.StringVar(&backendName, "keyring-type", "", "Keyring backend")
	flag.StringVar(&adapterID, "ble-adapter", "", "BLE adapter identifier (defaults to the platform's first adapter)")
	flag.StringVar(&cacheFile, "session-cache", "", "File that stores session state between invocations, skipping handshakes")
	flag.DurationVar(&connectTimeout, "connect-timeout", 20*time.Second, "Maximum time to scan for and connect to the vehicle")
	flag.DurationVar(&commandTimeout, "command-timeout", 5*time.Second, "Maximum time to wait for the vehicle to acknowledge a command")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Usage = cliUsage
	flag.Parse()

	if debug {
		log.SetLevel(log.LevelDebug)
	}
	if vin == "" {
		vin = os.Getenv("VLINK_VIN")
	}
	if vin == "" {
		writeErr("Must provide a VIN with -vin or $VLINK_VIN")
		return
	}

	args := flag.Args()
	var info *Command
	if len(args) > 0 {
		var ok bool
		info, ok = commands[args[0]]
		if !ok {
			writeErr("Unrecognized command: %s", args[0])
			writeErr("")
			usage(os.Stderr)
			return
		}
	}

	var privateKey protocol.ECDHPrivateKey
	var store *keystore.Store
	var err error
	if keyFile != "" {
		privateKey, err = protocol.LoadPrivateKey(keyFile)
	} else if keyName != "" {
		store = keystore.New()
		if backendName != "" {
			if err := store.SetBackend(backendName); err != nil {
				writeErr("Invalid keyring backend: %s", err)
				return
			}
		}
		privateKey, err = store.LoadPrivateKey(keyName)
	}
	if err != nil {
		writeErr("Failed to load private key: %s", err)
		return
	}

	adapter, err := goble.NewAdapter(adapterID)
	if err != nil {
		writeErr("Failed to initialize BLE adapter: %s", err)
		return
	}
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := ble.NewConnection(ctx, vin, adapter)
	if err != nil {
		writeErr("Failed to connect to vehicle: %s", err)
		return
	}
	defer conn.Close()

	var sessions *cache.SessionCache
	if cacheFile != "" {
		sessions, err = cache.ImportFromFile(cacheFile)
		if errors.Is(err, os.ErrNotExist) {
			sessions = cache.New(0)
		} else if err != nil {
			writeErr("Failed to load session cache: %s", err)
			return
		}
	}

	car, err := vehicle.NewVehicle(conn, privateKey, sessions)
	if err != nil {
		writeErr("Failed to initialize vehicle: %s", err)
		return
	}
	var pinnedKey *ecdh.PublicKey
	if store != nil {
		pinnedKey, err = store.VehicleKey(vin)
		if err != nil {
			writeErr("Failed to load pinned vehicle key: %s", err)
			return
		}
		if pinnedKey != nil {
			car.SetVehicleKey(pinnedKey)
		}
	}
	if err := car.Connect(ctx); err != nil {
		writeErr("Failed to connect to vehicle: %s", err)
		return
	}
	defer car.Disconnect()

	// A pairing request goes out unsigned; everything else needs a session with the command's
	// domain. The shell gets sessions with all domains up front.
	if privateKey != nil && (info == nil || info.requiresAuth) {
		var domains []protocol.Domain
		if info != nil {
			domains = []protocol.Domain{info.domain}
		}
		if err := car.StartSession(ctx, domains); err != nil {
			writeErr("Failed to perform handshake with vehicle: %s", err)
			return
		}
		if store != nil && pinnedKey == nil {
			if observed, err := car.VehicleKey(); err == nil && observed != nil {
				if err := store.PinVehicleKey(vin, observed); err != nil {
					writeErr("Failed to pin vehicle key: %s", err)
				}
			}
		}
	}

	if len(args) > 0 {
		status = runCommand(car, args, commandTimeout)
	} else {
		status = runInteractiveShell(car, commandTimeout)
	}

	if sessions != nil {
		if err := car.UpdateCachedSessions(sessions); err != nil {
			writeErr("Failed to update session cache: %s", err)
		} else if err := sessions.ExportToFile(cacheFile); err != nil {
			writeErr("Failed to save session cache: %s", err)
		}
	}
}

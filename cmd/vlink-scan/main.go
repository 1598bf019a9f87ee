// vlink-scan verifies that the host's BLE stack works and optionally scans for a vehicle's
// advertisement. Useful when diagnosing pairing or connection problems.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/connector/ble"
	"github.com/vehiclelink/vehiclelink/pkg/connector/ble/goble"
)

var (
	adapterID = flag.String("ble-adapter", "", "Optional ID of the BLE adapter to use (Linux only)")
	vin       = flag.String("vin", "", "Scan for the vehicle with this VIN until found or interrupted")
	timeout   = flag.Duration("timeout", 0, "Give up scanning after this long (0 means scan until interrupted)")
)

func main() {
	flag.Parse()
	log.SetLevel(log.LevelDebug)

	adapter, err := goble.NewAdapter(*adapterID)
	if err != nil {
		log.Error("Failed to initialize BLE adapter: %s", err)
		os.Exit(1)
	}
	defer adapter.Close()
	log.Info("BLE adapter initialized")

	if *vin == "" {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	log.Info("Scanning for %s (local name %s)", *vin, ble.VehicleLocalName(*vin))
	start := time.Now()
	beacon, err := ble.ScanVehicleBeacon(ctx, *vin, adapter)
	if err != nil {
		log.Error("Scan failed: %s", err)
		os.Exit(1)
	}
	fmt.Printf("Found %s after %s: address=%s rssi=%d connectable=%t\n",
		beacon.LocalName, time.Since(start).Round(time.Millisecond), beacon.Address, beacon.RSSI, beacon.Connectable)
}

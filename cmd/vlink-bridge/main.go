// vlink-bridge connects vehicles to a home-automation message bus. It maintains a BLE session
// with each configured vehicle and relays command requests and status updates over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/bus"
	"github.com/vehiclelink/vehiclelink/pkg/cache"
	"github.com/vehiclelink/vehiclelink/pkg/config"
	"github.com/vehiclelink/vehiclelink/pkg/connector/ble"
	"github.com/vehiclelink/vehiclelink/pkg/connector/ble/goble"
	"github.com/vehiclelink/vehiclelink/pkg/keystore"
	"github.com/vehiclelink/vehiclelink/pkg/metrics"
	"github.com/vehiclelink/vehiclelink/pkg/vehicle"
)

// keyringPasswordVariable lets the daemon open file-backed keyrings without a terminal.
const keyringPasswordVariable = "VLINK_KEYRING_PASSWORD"

var (
	configFile string
	adapterID  string
	debug      bool
)

func Execute() error {
	root := &cobra.Command{
		Use:          "vlink-bridge",
		Short:        "Bridge vehicles to a home-automation message bus",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if debug {
				cfg.Logging.Level = "debug"
			}
			log.SetLevel(log.ParseLevel(cfg.Logging.Level))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	root.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "configuration file (YAML or JSON)")
	root.Flags().StringVar(&adapterID, "ble-adapter", "", "BLE adapter identifier (defaults to the platform's first adapter)")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return root.Execute()
}

func openKeystore(cfg *config.Config) (*keystore.Store, error) {
	store := keystore.New()
	if cfg.Keyring.Backend != "" {
		if err := store.SetBackend(cfg.Keyring.Backend); err != nil {
			return nil, err
		}
	}
	if password := os.Getenv(keyringPasswordVariable); password != "" {
		store.SetPassword(password)
	}
	return store, nil
}

func loadSessions(cfg *config.Config) (*cache.SessionCache, error) {
	if cfg.Cache.File == "" {
		return cache.New(cfg.Cache.MaxVehicles), nil
	}
	sessions, err := cache.ImportFromFile(cfg.Cache.File)
	if errors.Is(err, os.ErrNotExist) {
		return cache.New(cfg.Cache.MaxVehicles), nil
	}
	return sessions, err
}

func saveSessions(cfg *config.Config, sessions *cache.SessionCache) {
	if cfg.Cache.File == "" {
		return
	}
	if err := sessions.ExportToFile(cfg.Cache.File); err != nil {
		log.Error("failed to save session cache: %s", err)
	}
}

// connectVehicle establishes the BLE connection and the authenticated session for one vehicle.
// Scanning shares the adapter, so callers connect vehicles one at a time.
func connectVehicle(ctx context.Context, cfg *config.Config, store *keystore.Store, adapter ble.Adapter, sessions *cache.SessionCache, vcfg config.VehicleConfig, recorder *metrics.Recorder) (*vehicle.Vehicle, error) {
	privateKey, err := store.LoadPrivateKey(cfg.KeyName(vcfg))
	if err != nil {
		return nil, fmt.Errorf("failed to load private key %q: %w", cfg.KeyName(vcfg), err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Timeouts.ConnectSeconds)*time.Second)
	defer cancel()

	conn, err := ble.NewConnection(connectCtx, vcfg.VIN, adapter)
	if err != nil {
		return nil, err
	}
	car, err := vehicle.NewVehicle(conn, privateKey, sessions)
	if err != nil {
		conn.Close()
		return nil, err
	}
	pinned, err := store.VehicleKey(vcfg.VIN)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to load pinned key for %s: %w", vcfg.VIN, err)
	}
	if pinned != nil {
		car.SetVehicleKey(pinned)
	}
	if err := car.Connect(connectCtx); err != nil {
		conn.Close()
		return nil, err
	}
	err = car.StartSession(connectCtx, nil)
	recorder.RecordHandshake(vcfg.VIN, err)
	if err != nil {
		car.Disconnect()
		return nil, fmt.Errorf("handshake with %s failed: %w", vcfg.VIN, err)
	}
	// Trust on first use: remember the identity the vehicle proved so that a future peer
	// presenting a different key is rejected.
	if pinned == nil {
		if observed, err := car.VehicleKey(); err == nil && observed != nil {
			if err := store.PinVehicleKey(vcfg.VIN, observed); err != nil {
				log.Warning("failed to pin vehicle key for %s: %s", vcfg.VIN, err)
			}
		}
	}
	return car, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openKeystore(cfg)
	if err != nil {
		return err
	}
	sessions, err := loadSessions(cfg)
	if err != nil {
		return fmt.Errorf("failed to load session cache: %w", err)
	}

	busClient, err := bus.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}
	defer busClient.Close()

	var recorder *metrics.Recorder
	if cfg.Metrics.Address != "" {
		if recorder, err = metrics.NewRecorder(); err != nil {
			return err
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Address); err != nil {
				log.Error("metrics server: %s", err)
			}
		}()
	}

	adapter, err := goble.NewAdapter(adapterID)
	if err != nil {
		return fmt.Errorf("failed to initialize BLE adapter: %w", err)
	}
	defer adapter.Close()

	var wg sync.WaitGroup
	connected := 0
	for _, vcfg := range cfg.Vehicles {
		car, err := connectVehicle(ctx, cfg, store, adapter, sessions, vcfg, recorder)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("skipping %s: %s", vcfg.VIN, err)
			continue
		}
		if err := busClient.AnnounceVehicle(vcfg.VIN); err != nil {
			log.Error("failed to announce %s: %s", vcfg.VIN, err)
		}
		log.Info("bridging %s", vcfg.VIN)
		connected++

		bridge := bus.NewBridge(busClient, car, recorder)
		bridge.SetCommandTimeout(time.Duration(cfg.Timeouts.CommandSeconds) * time.Second)
		wg.Add(1)
		go func(car *vehicle.Vehicle) {
			defer wg.Done()
			defer car.Disconnect()
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("bridge for %s terminated: %s", car.VIN(), err)
			}
			if err := car.UpdateCachedSessions(sessions); err != nil {
				log.Error("failed to cache sessions for %s: %s", car.VIN(), err)
			}
		}(car)
	}
	if connected == 0 {
		return errors.New("no vehicles connected")
	}

	wg.Wait()
	saveSessions(cfg, sessions)
	return ctx.Err()
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

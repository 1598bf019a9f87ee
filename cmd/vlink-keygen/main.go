// Utility for managing controller keys and pinned vehicle keys in the system keyring.
package main

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vehiclelink/vehiclelink/internal/authentication"
	"github.com/vehiclelink/vehiclelink/internal/log"
	"github.com/vehiclelink/vehiclelink/pkg/keystore"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"
)

var (
	keyName  string
	backend  string
	password string
	debug    bool

	store *keystore.Store
)

func printPublicKey(skey protocol.ECDHPrivateKey) error {
	native, ok := skey.(*authentication.NativeECDHKey)
	if !ok {
		return fmt.Errorf("private key does not expose a public key")
	}
	derPublicKey, err := x509.MarshalPKIXPublicKey(&native.ECDSA().PublicKey)
	if err != nil {
		return err
	}
	return pem.Encode(os.Stdout, &pem.Block{Type: "PUBLIC KEY", Bytes: derPublicKey})
}

func printPrivateKey(skey protocol.ECDHPrivateKey) error {
	native, ok := skey.(*authentication.NativeECDHKey)
	if !ok {
		return fmt.Errorf("private key is not exportable")
	}
	derPrivateKey, err := x509.MarshalECPrivateKey(native.ECDSA())
	if err != nil {
		return err
	}
	return pem.Encode(os.Stdout, &pem.Block{Type: "EC PRIVATE KEY", Bytes: derPrivateKey})
}

func createCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a controller private key and store it in the keyring",
		Long: "Generates a new P-256 private key and saves it in the system keyring. If a key with\n" +
			"the same name already exists, the existing public key is printed instead unless -f is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !overwrite {
				if skey, err := store.LoadPrivateKey(keyName); err == nil {
					return printPublicKey(skey)
				}
			}
			skey, err := authentication.NewECDHPrivateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("failed to generate private key: %w", err)
			}
			if err := store.SavePrivateKey(keyName, skey); err != nil {
				return fmt.Errorf("failed to save key to keyring: %w", err)
			}
			return printPublicKey(skey)
		},
	}
	cmd.Flags().BoolVarP(&overwrite, "force", "f", false, "overwrite an existing key")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the controller private key to stdout as PEM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			skey, err := store.LoadPrivateKey(keyName)
			if err != nil {
				return fmt.Errorf("failed to load key: %w", err)
			}
			return printPrivateKey(skey)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the controller private key from the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.DeletePrivateKey(keyName)
		},
	}
}

func pinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin VIN PUBLIC_KEY_HEX",
		Short: "Pin a vehicle's public key so future handshakes are verified against it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			publicKey, err := protocol.PublicKeyFromHex(args[1])
			if err != nil {
				return fmt.Errorf("invalid public key: %w", err)
			}
			return store.PinVehicleKey(args[0], publicKey)
		},
	}
}

func unpinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin VIN",
		Short: "Remove a pinned vehicle public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return store.UnpinVehicleKey(args[0])
		},
	}
}

func Execute() error {
	root := &cobra.Command{
		Use:          "vlink-keygen",
		Short:        "Manage controller and vehicle keys in the system keyring",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				log.SetLevel(log.LevelDebug)
			}
			store = keystore.New()
			if backend != "" {
				if err := store.SetBackend(backend); err != nil {
					return err
				}
			}
			if password != "" {
				store.SetPassword(password)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&keyName, "key-name", "controller", "name of the controller key inside the keyring")
	root.PersistentFlags().StringVar(&backend, "backend", "", "keyring backend (defaults to the platform's most secure option)")
	root.PersistentFlags().StringVar(&password, "password", "", "password for file-backed keyrings (prompts if omitted)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(createCmd(), exportCmd(), deleteCmd(), pinCmd(), unpinCmd())
	return root.Execute()
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

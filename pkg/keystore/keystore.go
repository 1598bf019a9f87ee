// Package keystore persists controller private keys and pinned vehicle public keys in the
// system credential store.
package keystore

import (
	"crypto/ecdh"
	"fmt"
	"io"
	"os"

	"github.com/vehiclelink/vehiclelink/internal/authentication"
	"github.com/vehiclelink/vehiclelink/pkg/protocol"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	serviceName       = "com.vehiclelink.auth"
	privateKeyService = "controllerKey"
	vehicleKeyService = "vehiclePublicKey"
	keyringDirectory  = "~/.vehiclelink_keys"
)

// Store wraps the system keyring. The zero value is not usable; call New.
type Store struct {
	Config   keyring.Config
	password *string
	ring     keyring.Keyring
}

// New returns a Store backed by the platform's preferred credential backend, falling back to a
// passphrase-protected file under ~/.vehiclelink_keys.
func New() *Store {
	s := &Store{
		Config: keyring.Config{
			ServiceName: serviceName,
			FileDir:     keyringDirectory,
		},
	}
	s.Config.FilePasswordFunc = s.getPassword
	return s
}

// SetBackend restricts the Store to a single named keyring backend. An empty name keeps the
// platform default order.
func (s *Store) SetBackend(name string) error {
	if name == "" {
		return nil
	}
	value := keyring.BackendType(name)
	for _, available := range keyring.AvailableBackends() {
		if available == value {
			s.Config.AllowedBackends = []keyring.BackendType{value}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage backend %q", name)
}

// SetPassword provides the file-backend passphrase programmatically, suppressing the terminal
// prompt. Daemons without an attached terminal must call this before the first keyring access.
func (s *Store) SetPassword(password string) {
	s.password = &password
}

func (s *Store) getPassword(prompt string) (string, error) {
	if s.password != nil && *s.password != "" {
		return *s.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	s.password = &password
	return password, nil
}

func (s *Store) openKeyring() (keyring.Keyring, error) {
	if s.ring != nil {
		return s.ring, nil
	}
	ring, err := keyring.Open(s.Config)
	if err != nil {
		return nil, err
	}
	s.ring = ring
	return ring, nil
}

func privateKeyEntry(name string) string {
	return privateKeyService + "." + name
}

func vehicleKeyEntry(vin string) string {
	return vehicleKeyService + "." + vin
}

// LoadPrivateKey reads a controller private key from the keyring.
//
// The name is an arbitrary string that identifies the key, allowing multiple controller
// identities in one store.
func (s *Store) LoadPrivateKey(name string) (protocol.ECDHPrivateKey, error) {
	kr, err := s.openKeyring()
	if err != nil {
		return nil, err
	}
	item, err := kr.Get(privateKeyEntry(name))
	if err != nil {
		return nil, fmt.Errorf("could not load key %q: %s", name, err)
	}
	key := protocol.UnmarshalECDHPrivateKey(item.Data)
	if key == nil {
		return nil, fmt.Errorf("keyring entry %q does not hold a valid private key", name)
	}
	return key, nil
}

// SavePrivateKey writes a controller private key to the keyring under name, replacing any
// existing entry.
func (s *Store) SavePrivateKey(name string, key protocol.ECDHPrivateKey) error {
	scalar, err := authentication.MarshalPrivateScalar(key)
	if err != nil {
		return err
	}
	kr, err := s.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:  privateKeyEntry(name),
		Data: scalar,
	}); err != nil {
		return fmt.Errorf("failed to enroll key in keyring: %s", err)
	}
	return nil
}

// DeletePrivateKey removes a controller private key from the keyring.
func (s *Store) DeletePrivateKey(name string) error {
	kr, err := s.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(privateKeyEntry(name))
}

// PinVehicleKey records a vehicle's public key, keyed by VIN. Subsequent calls to VehicleKey
// return the pinned key so clients can detect a peer that changed identity.
func (s *Store) PinVehicleKey(vin string, publicKey *ecdh.PublicKey) error {
	if publicKey.Curve() != ecdh.P256() {
		return protocol.ErrInvalidPublicKey
	}
	kr, err := s.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:  vehicleKeyEntry(vin),
		Data: publicKey.Bytes(),
	}); err != nil {
		return fmt.Errorf("failed to pin vehicle key: %s", err)
	}
	return nil
}

// VehicleKey returns the pinned public key for vin, or (nil, nil) if no key has been pinned.
func (s *Store) VehicleKey(vin string) (*ecdh.PublicKey, error) {
	kr, err := s.openKeyring()
	if err != nil {
		return nil, err
	}
	item, err := kr.Get(vehicleKeyEntry(vin))
	if err == keyring.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	publicKey, err := ecdh.P256().NewPublicKey(item.Data)
	if err != nil {
		return nil, protocol.ErrInvalidPublicKey
	}
	return publicKey, nil
}

// UnpinVehicleKey removes the pinned public key for vin. Removing a key that was never pinned is
// not an error.
func (s *Store) UnpinVehicleKey(vin string) error {
	kr, err := s.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Remove(vehicleKeyEntry(vin)); err != nil && err != keyring.ErrKeyNotFound {
		return err
	}
	return nil
}

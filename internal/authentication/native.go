package authentication

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"os"

	"crypto/ecdh"

	"golang.org/x/crypto/hkdf"
)

// HKDF info labels. Each direction gets its own key; the labels are written from the
// controller's perspective and swapped for RoleVehicle.
const (
	labelControllerToVehicle = "vehiclelink command controller-to-vehicle"
	labelVehicleToController = "vehiclelink command vehicle-to-controller"
)

// KeyID returns the short identifier of an encoded public key, mixed into the HKDF salt so that
// derived keys are bound to both identities.
//
// SHA1 is safe in this context: the digest only needs to map a curve point to a short
// pseudo-random label, not resist collisions.
func KeyID(publicBytes []byte) []byte {
	digest := sha1.Sum(publicBytes)
	return digest[:KeyIDLength]
}

// SessionSalt builds the HKDF salt from the session epoch and both peers' key IDs.
func SessionSalt(epoch []byte, localPublic, remotePublic []byte) []byte {
	salt := make([]byte, 0, len(epoch)+2*KeyIDLength)
	salt = append(salt, epoch...)
	salt = append(salt, KeyID(localPublic)...)
	return append(salt, KeyID(remotePublic)...)
}

// NativeSession implements Session with HKDF-SHA256 derived keys and HMAC-SHA256 tags.
type NativeSession struct {
	sendKey     []byte
	receiveKey  []byte
	localPublic []byte
}

func (s *NativeSession) LocalPublicBytes() []byte {
	buff := make([]byte, len(s.localPublic))
	copy(buff, s.localPublic)
	return buff
}

func truncatedHMAC(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)[:TagLengthBytes]
}

func (s *NativeSession) SendHMAC(data []byte) []byte {
	return truncatedHMAC(s.sendKey, data)
}

func (s *NativeSession) ReceiveHMAC(data []byte) []byte {
	return truncatedHMAC(s.receiveKey, data)
}

// NativeECDHKey implements ECDHPrivateKey using NIST P-256.
type NativeECDHKey struct {
	private *ecdsa.PrivateKey
}

// ECDSA exposes the underlying key for PEM serialization.
func (n *NativeECDHKey) ECDSA() *ecdsa.PrivateKey {
	return n.private
}

func (n *NativeECDHKey) PublicBytes() []byte {
	ecdhKey, err := n.private.PublicKey.ECDH()
	if err != nil {
		return nil
	}
	return ecdhKey.Bytes()
}

func deriveKey(secret, salt []byte, label string) ([]byte, error) {
	key := make([]byte, SharedKeySizeBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(label)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func (n *NativeECDHKey) Exchange(remotePublicBytes, salt []byte, role Role) (Session, error) {
	remote, err := ecdh.P256().NewPublicKey(remotePublicBytes)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	local, err := n.private.ECDH()
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	secret, err := local.ECDH(remote)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	sendLabel, receiveLabel := labelControllerToVehicle, labelVehicleToController
	if role == RoleVehicle {
		sendLabel, receiveLabel = receiveLabel, sendLabel
	}
	session := NativeSession{localPublic: n.PublicBytes()}
	if session.sendKey, err = deriveKey(secret, salt, sendLabel); err != nil {
		return nil, err
	}
	if session.receiveKey, err = deriveKey(secret, salt, receiveLabel); err != nil {
		return nil, err
	}
	return &session, nil
}

// NewECDHPrivateKey generates a fresh P-256 key. The session negotiator calls this once per
// handshake attempt; ephemeral keys are never reused across attempts.
func NewECDHPrivateKey(rng io.Reader) (ECDHPrivateKey, error) {
	ecdsaKey, err := ecdsa.GenerateKey(elliptic.P256(), rng)
	if err != nil {
		return nil, err
	}
	return &NativeECDHKey{ecdsaKey}, nil
}

// LoadExternalECDHKey reads a PEM-encoded P-256 private key from filename.
func LoadExternalECDHKey(filename string) (ECDHPrivateKey, error) {
	pemBlock, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBlock)
	if block == nil {
		return nil, fmt.Errorf("%w: expected PEM encoding", ErrInvalidPrivateKey)
	}

	var ecdsaPrivateKey *ecdsa.PrivateKey

	if block.Type == "EC PRIVATE KEY" {
		ecdsaPrivateKey, err = x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
	} else {
		privateKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		var ok bool
		if ecdsaPrivateKey, ok = privateKey.(*ecdsa.PrivateKey); !ok {
			return nil, fmt.Errorf("%w: only elliptic curve keys supported", ErrInvalidPrivateKey)
		}
	}

	if ecdsaPrivateKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: only NIST-P256 keys supported", ErrInvalidPrivateKey)
	}
	return &NativeECDHKey{ecdsaPrivateKey}, nil
}

// UnmarshalECDHPrivateKey parses a raw 32-byte P-256 scalar. Returns nil on invalid input.
func UnmarshalECDHPrivateKey(privateScalar []byte) ECDHPrivateKey {
	if len(privateScalar) != 32 {
		return nil
	}
	sk := ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: elliptic.P256()}}
	var d big.Int
	sk.D = d.SetBytes(privateScalar)
	if sk.D.Sign() == 0 || sk.D.Cmp(elliptic.P256().Params().N) >= 0 {
		return nil
	}
	sk.PublicKey.X, sk.PublicKey.Y = sk.PublicKey.Curve.ScalarBaseMult(privateScalar)
	return &NativeECDHKey{&sk}
}

// MarshalPrivateScalar returns the raw 32-byte scalar of a native key for keyring storage.
func MarshalPrivateScalar(key ECDHPrivateKey) ([]byte, error) {
	nativeKey, ok := key.(*NativeECDHKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is not exportable", ErrInvalidPrivateKey)
	}
	scalar := make([]byte, 32)
	if nativeKey.private.D.BitLen() > 8*len(scalar) {
		return nil, ErrInvalidPrivateKey
	}
	return nativeKey.private.D.FillBytes(scalar), nil
}

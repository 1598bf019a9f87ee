package authentication

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidProof indicates an identity proof that does not verify against the claimed key.
var ErrInvalidProof = errors.New("invalid identity proof")

// identityProofLabel domain-separates proof digests from other uses of the long-term key.
const identityProofLabel = "vehiclelink identity proof"

func identityProofDigest(ephemeralPublic, challenge []byte) []byte {
	digest := sha256.New()
	digest.Write([]byte(identityProofLabel))
	digest.Write(ephemeralPublic)
	digest.Write(challenge)
	return digest.Sum(nil)
}

// SignIdentityProof binds a handshake's fresh ephemeral key to the controller's long-term key:
// an ECDSA signature over the ephemeral public key and the handshake challenge. The vehicle
// checks the proof against its enrolled keys before negotiating, so possession of the long-term
// key is demonstrated without ever putting it through the key agreement.
func SignIdentityProof(rng io.Reader, identity ECDHPrivateKey, ephemeralPublic, challenge []byte) ([]byte, error) {
	nativeKey, ok := identity.(*NativeECDHKey)
	if !ok {
		return nil, fmt.Errorf("%w: key cannot sign identity proofs", ErrInvalidPrivateKey)
	}
	return ecdsa.SignASN1(rng, nativeKey.private, identityProofDigest(ephemeralPublic, challenge))
}

// VerifyIdentityProof checks that proof was produced by the holder of identityPublic over
// ephemeralPublic and challenge.
func VerifyIdentityProof(identityPublic, ephemeralPublic, challenge, proof []byte) error {
	x, y := elliptic.Unmarshal(elliptic.P256(), identityPublic)
	if x == nil {
		return ErrInvalidPublicKey
	}
	publicKey := ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	if !ecdsa.VerifyASN1(&publicKey, identityProofDigest(ephemeralPublic, challenge), proof) {
		return ErrInvalidProof
	}
	return nil
}

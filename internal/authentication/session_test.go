package authentication

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func testSessionPair(t *testing.T) (Session, Session) {
	t.Helper()
	controllerKey, err := NewECDHPrivateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	vehicleKey, err := NewECDHPrivateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	epoch := make([]byte, EpochLength)
	if _, err := rand.Read(epoch); err != nil {
		t.Fatal(err)
	}
	// Both peers build the salt in controller-first order.
	salt := SessionSalt(epoch, controllerKey.PublicBytes(), vehicleKey.PublicBytes())
	controller, err := controllerKey.Exchange(vehicleKey.PublicBytes(), salt, RoleController)
	if err != nil {
		t.Fatalf("controller exchange failed: %s", err)
	}
	vehicle, err := vehicleKey.Exchange(controllerKey.PublicBytes(), salt, RoleVehicle)
	if err != nil {
		t.Fatalf("vehicle exchange failed: %s", err)
	}
	return controller, vehicle
}

func TestKeyAgreement(t *testing.T) {
	controller, vehicle := testSessionPair(t)
	message := []byte("lock the doors")
	if !bytes.Equal(controller.SendHMAC(message), vehicle.ReceiveHMAC(message)) {
		t.Error("controller send key does not match vehicle receive key")
	}
	if !bytes.Equal(vehicle.SendHMAC(message), controller.ReceiveHMAC(message)) {
		t.Error("vehicle send key does not match controller receive key")
	}
}

func TestDirectionSeparation(t *testing.T) {
	controller, _ := testSessionPair(t)
	message := []byte("open charge port")
	if bytes.Equal(controller.SendHMAC(message), controller.ReceiveHMAC(message)) {
		t.Error("send and receive keys must differ")
	}
}

func TestExchangeRejectsBadPublicKey(t *testing.T) {
	key, err := NewECDHPrivateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	salt := make([]byte, EpochLength+2*KeyIDLength)
	tests := []struct {
		name   string
		remote []byte
	}{
		{"nil", nil},
		{"truncated", key.PublicBytes()[:32]},
		{"not on curve", bytes.Repeat([]byte{0x04}, 65)},
	}
	for _, test := range tests {
		if _, err := key.Exchange(test.remote, salt, RoleController); !errors.Is(err, ErrInvalidPublicKey) {
			t.Errorf("%s: expected ErrInvalidPublicKey, got %v", test.name, err)
		}
	}
}

func TestSignerCountersStrictlyIncrease(t *testing.T) {
	controller, _ := testSessionPair(t)
	signer := NewSigner(controller, 0)
	base := []byte("unlock")
	var last uint32
	for i := 0; i < 10; i++ {
		counter, tag, err := signer.Sign(base)
		if err != nil {
			t.Fatalf("sign %d failed: %s", i, err)
		}
		if counter <= last {
			t.Fatalf("counter %d not strictly greater than %d", counter, last)
		}
		if len(tag) != TagLengthBytes {
			t.Fatalf("tag length %d", len(tag))
		}
		last = counter
	}
}

func TestSignerCounterExhaustion(t *testing.T) {
	controller, _ := testSessionPair(t)
	signer := NewSigner(controller, counterMax-1)
	if _, _, err := signer.Sign([]byte("last one")); err != nil {
		t.Fatalf("penultimate counter should sign: %s", err)
	}
	if _, _, err := signer.Sign([]byte("too late")); !errors.Is(err, ErrCounterExhausted) {
		t.Errorf("expected ErrCounterExhausted, got %v", err)
	}
	// Exhaustion is permanent for the session.
	if _, _, err := signer.Sign([]byte("still too late")); !errors.Is(err, ErrCounterExhausted) {
		t.Errorf("expected ErrCounterExhausted on retry, got %v", err)
	}
}

func TestVerifierAcceptsSignedMessages(t *testing.T) {
	controller, vehicle := testSessionPair(t)
	signer := NewSigner(controller, 0)
	verifier := NewVerifier(vehicle, 0)
	for _, base := range [][]byte{[]byte("wake"), []byte("unlock"), []byte("honk")} {
		counter, tag, err := signer.Sign(base)
		if err != nil {
			t.Fatal(err)
		}
		if err := verifier.Verify(base, counter, tag); err != nil {
			t.Errorf("%q: verify failed: %s", base, err)
		}
	}
}

func TestVerifierRejectsReplay(t *testing.T) {
	controller, vehicle := testSessionPair(t)
	signer := NewSigner(controller, 0)
	verifier := NewVerifier(vehicle, 0)
	base := []byte("unlock")
	counter, tag, err := signer.Sign(base)
	if err != nil {
		t.Fatal(err)
	}
	if err := verifier.Verify(base, counter, tag); err != nil {
		t.Fatal(err)
	}
	if err := verifier.Verify(base, counter, tag); !errors.Is(err, ErrStaleCounter) {
		t.Errorf("expected ErrStaleCounter on replay, got %v", err)
	}
}

func TestVerifierRejectsTamperedMessage(t *testing.T) {
	controller, vehicle := testSessionPair(t)
	signer := NewSigner(controller, 0)
	verifier := NewVerifier(vehicle, 0)
	base := []byte("set charge limit 80")
	counter, tag, err := signer.Sign(base)
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte{}, base...)
	tampered[0] ^= 0x01
	if err := verifier.Verify(tampered, counter, tag); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("tampered payload: expected ErrInvalidTag, got %v", err)
	}

	badTag := append([]byte{}, tag...)
	badTag[0] ^= 0x01
	if err := verifier.Verify(base, counter, badTag); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("tampered tag: expected ErrInvalidTag, got %v", err)
	}

	// Failed checks must not advance the replay window.
	if err := verifier.Verify(base, counter, tag); err != nil {
		t.Errorf("legitimate message rejected after failed attempts: %s", err)
	}
}

func TestVerifierRejectsCounterBelowBaseline(t *testing.T) {
	controller, vehicle := testSessionPair(t)
	verifier := NewVerifier(vehicle, 100)
	base := []byte("unlock")
	tag := controller.SendHMAC(signedData(base, 100))
	if err := verifier.Verify(base, 100, tag); !errors.Is(err, ErrStaleCounter) {
		t.Errorf("expected ErrStaleCounter at baseline, got %v", err)
	}
	tag = controller.SendHMAC(signedData(base, 101))
	if err := verifier.Verify(base, 101, tag); err != nil {
		t.Errorf("counter above baseline rejected: %s", err)
	}
}

func TestTagBoundToCounter(t *testing.T) {
	controller, vehicle := testSessionPair(t)
	signer := NewSigner(controller, 0)
	verifier := NewVerifier(vehicle, 0)
	base := []byte("unlock")
	_, tag, err := signer.Sign(base)
	if err != nil {
		t.Fatal(err)
	}
	// Bumping the counter without re-signing must fail the tag check, not the replay check.
	if err := verifier.Verify(base, 2, tag); !errors.Is(err, ErrInvalidTag) {
		t.Errorf("expected ErrInvalidTag for counter substitution, got %v", err)
	}
}

func TestPrivateScalarRoundTrip(t *testing.T) {
	key, err := NewECDHPrivateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	scalar, err := MarshalPrivateScalar(key)
	if err != nil {
		t.Fatal(err)
	}
	restored := UnmarshalECDHPrivateKey(scalar)
	if restored == nil {
		t.Fatal("failed to unmarshal freshly marshaled scalar")
	}
	if !bytes.Equal(restored.PublicBytes(), key.PublicBytes()) {
		t.Error("restored key has different public point")
	}
}

func TestUnmarshalRejectsInvalidScalars(t *testing.T) {
	if UnmarshalECDHPrivateKey(nil) != nil {
		t.Error("accepted nil scalar")
	}
	if UnmarshalECDHPrivateKey(make([]byte, 31)) != nil {
		t.Error("accepted short scalar")
	}
	if UnmarshalECDHPrivateKey(make([]byte, 32)) != nil {
		t.Error("accepted zero scalar")
	}
	if UnmarshalECDHPrivateKey(bytes.Repeat([]byte{0xFF}, 32)) != nil {
		t.Error("accepted scalar above group order")
	}
}

func TestKeyID(t *testing.T) {
	key, err := NewECDHPrivateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	id := KeyID(key.PublicBytes())
	if len(id) != KeyIDLength {
		t.Fatalf("key ID length %d", len(id))
	}
	if !bytes.Equal(id, KeyID(key.PublicBytes())) {
		t.Error("key ID not deterministic")
	}
}

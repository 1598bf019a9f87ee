package authentication

import (
	"encoding/json"
	"fmt"
)

// sessionSnapshot is the serialized form of a NativeSession's derived keys. Counters and epoch
// travel separately; they belong to the negotiation layer, not the key material.
type sessionSnapshot struct {
	SendKey     []byte `json:"send_key"`
	ReceiveKey  []byte `json:"receive_key"`
	LocalPublic []byte `json:"local_public"`
}

// ExportSessionState serializes a session's derived keys so a client can resume the session
// after a restart without a fresh key agreement. The output contains symmetric key material and
// must be stored with the same care as a private key.
func ExportSessionState(s Session) ([]byte, error) {
	native, ok := s.(*NativeSession)
	if !ok {
		return nil, fmt.Errorf("session is not exportable")
	}
	return json.Marshal(sessionSnapshot{
		SendKey:     native.sendKey,
		ReceiveKey:  native.receiveKey,
		LocalPublic: native.localPublic,
	})
}

// ImportSessionState reconstructs a Session from ExportSessionState output.
func ImportSessionState(data []byte) (Session, error) {
	var snapshot sessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("invalid session state: %w", err)
	}
	if len(snapshot.SendKey) != SharedKeySizeBytes || len(snapshot.ReceiveKey) != SharedKeySizeBytes {
		return nil, fmt.Errorf("invalid session state: bad key length")
	}
	return &NativeSession{
		sendKey:     snapshot.SendKey,
		receiveKey:  snapshot.ReceiveKey,
		localPublic: snapshot.LocalPublic,
	}, nil
}

package protocol

import (
	"errors"
	"fmt"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a command that might have been
	// executed. For example, if a client times out while waiting for a response, then the client
	// cannot tell if the command was received. (Not all timeouts mean the command MayHaveSucceeded,
	// so the common Timeout() error interface is not appropriate here).
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition. A command
	// that failed with a Temporary error and did not MayHaveSucceeded is safe to retry.
	Temporary() bool
}

var (
	// ErrMalformedMessage indicates bytes arrived that do not parse as a valid envelope or
	// payload. The message is discarded; retrying the same bytes cannot help.
	ErrMalformedMessage = NewError("malformed message", false, false)
	// ErrAuthenticationFailed indicates an authentication tag did not verify. The session is
	// invalidated and the command is not retried automatically, since a bad tag usually means a
	// stale session rather than a transient fault.
	ErrAuthenticationFailed = NewError("message authentication failed", false, false)
	// ErrReplayRejected indicates a message carried a counter at or below the last accepted value
	// for its session.
	ErrReplayRejected = NewError("message counter replayed or stale", false, false)
	// ErrHandshakeTimeout indicates session negotiation did not reach the authorized state before
	// its deadline. Negotiation is retried with fresh ephemeral keys; the command itself was never
	// sent.
	ErrHandshakeTimeout = NewError("session handshake timed out", false, true)
	// ErrTimeout indicates no response arrived before the command deadline. The vehicle may or may
	// not have applied the command, so it is surfaced rather than silently retried.
	ErrTimeout = NewError("no response from vehicle before deadline", true, false)
	// ErrNoSession indicates the client has not established a session with the vehicle domain.
	ErrNoSession = NewError("cannot send authenticated command before establishing a vehicle session", false, false)
	// ErrNotConnected indicates the vehicle could not be reached.
	ErrNotConnected = NewError("vehicle not connected", false, false)
	// ErrRequiresKey indicates a client tried to send a command without a private key.
	ErrRequiresKey = NewError("no private key available", false, false)
	// ErrCounterExhausted indicates a session's outgoing counter wrapped. The session must be
	// renegotiated.
	ErrCounterExhausted = NewError("session counter exhausted", false, false)
	// ErrKeyNotPaired indicates the vehicle rejected a handshake because the controller's public
	// key has not been enrolled.
	ErrKeyNotPaired = NewError("vehicle rejected request: public key has not been paired with the vehicle", false, false)
	// ErrUnexpectedPublicKey indicates the vehicle presented a long-term key that does not match
	// the pinned identity.
	ErrUnexpectedPublicKey = errors.New("remote public key changed unexpectedly")
)

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// LinkError wraps a transport-level failure. The fragment or request is abandoned and the error
// surfaces to the caller; the whole command is safe to retry since nothing reached the vehicle
// before the link-level send failed.
type LinkError struct {
	Details error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error: %s", e.Details)
}

func (e *LinkError) Unwrap() error {
	return e.Details
}

func (e *LinkError) MayHaveSucceeded() bool {
	return false
}

func (e *LinkError) Temporary() bool {
	return true
}

// IsLinkError returns true if err originated at the transport layer.
func IsLinkError(err error) bool {
	var lErr *LinkError
	return errors.As(err, &lErr)
}

// MayHaveSucceeded returns true if err indicates the command may have been executed but the client
// did not receive a confirmation from the vehicle.
func MayHaveSucceeded(err error) bool {
	var commErr Error
	if errors.As(err, &commErr) {
		return commErr.MayHaveSucceeded()
	}
	return false
}

// Temporary returns true if err indicates the command failed due to possibly transient conditions
// that do not require user action to resolve.
func Temporary(err error) bool {
	var commErr Error
	if errors.As(err, &commErr) {
		return commErr.Temporary()
	}
	return false
}

// ShouldRetry returns true if the client should retry the command that triggered an error.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return !MayHaveSucceeded(err) && Temporary(err)
}

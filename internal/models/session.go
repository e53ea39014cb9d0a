package models

import "errors"

// PeerRole identifies which of the two room sessions a peer session serves
type PeerRole int

const (
	RolePublisher PeerRole = iota
	RoleSubscriber
)

func (r PeerRole) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	default:
		return "unknown"
	}
}

// ConnectionState is the transport-level state reported by the media engine
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateChecking
	StateConnected
	StateCompleted
	StateDisconnected
	StateClosed
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateChecking:
		return "checking"
	case StateConnected:
		return "connected"
	case StateCompleted:
		return "completed"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Established reports whether ICE has finished. Remote candidates must not be
// applied once a session is established.
func (s ConnectionState) Established() bool {
	return s == StateConnected || s == StateCompleted
}

// Fatal reports whether the room session cannot recover from this state.
func (s ConnectionState) Fatal() bool {
	return s == StateDisconnected || s == StateClosed || s == StateFailed
}

// ErrIncompleteCredentials is returned when any credential field is empty.
var ErrIncompleteCredentials = errors.New("models: incomplete ICE credentials")

// IceCredentials are the local ICE/DTLS parameters captured from the first
// locally generated description. Values exclude the "a=<name>:" prefix.
type IceCredentials struct {
	Ufrag       string `json:"ufrag"`
	Pwd         string `json:"pwd"`
	Fingerprint string `json:"fingerprint"`
}

// Validate returns ErrIncompleteCredentials if any field is empty.
func (c IceCredentials) Validate() error {
	if c.Ufrag == "" || c.Pwd == "" || c.Fingerprint == "" {
		return ErrIncompleteCredentials
	}
	return nil
}

// PendingRemoteUpdate is a single-slot mailbox of remote state awaiting
// application to a session. Empty strings mean "nothing pending". A new value
// overwrites any value not yet taken.
type PendingRemoteUpdate struct {
	RemoteDescription string
	ICECandidate      string
}

// Empty reports whether nothing is pending.
func (u PendingRemoteUpdate) Empty() bool {
	return u.RemoteDescription == "" && u.ICECandidate == ""
}

// Take returns the pending values and clears the slot.
func (u *PendingRemoteUpdate) Take() PendingRemoteUpdate {
	taken := *u
	*u = PendingRemoteUpdate{}
	return taken
}

// Package media defines the boundary to the media engine that performs
// ICE/DTLS/SRTP for one peer session, and provides a pion/webrtc backed
// implementation.
package media

import (
	"errors"

	"github.com/mossy-p/webrtc-device/internal/models"
)

// ErrNoTrack is returned when sending media the engine was not built to carry.
var ErrNoTrack = errors.New("media: no local track for this kind")

// Engine is one media-engine session. Only the owning session driver calls
// its methods. Callbacks may fire from within those calls or from engine
// goroutines.
type Engine interface {
	// Pump performs one non-blocking iteration of engine work.
	Pump()

	State() models.ConnectionState
	SetRemoteDescription(sdp string) error
	AddICECandidate(candidate string) error

	// CreateOffer starts local offer generation. The offer is delivered via
	// the local description callback.
	CreateOffer() error

	// OnLocalDescription registers the callback that receives each locally
	// generated description, including the one produced after a remote offer.
	OnLocalDescription(func(sdp string))
	OnConnectionStateChange(func(models.ConnectionState))

	SendAudio(frame []byte) error
	SendVideo(frame []byte) error
	Close() error
}

// Factory creates the engine for one role.
type Factory func(role models.PeerRole) (Engine, error)

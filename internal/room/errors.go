package room

import "errors"

var (
	// ErrRoomFailed wraps every condition that ends a room session. The
	// caller is expected to tear the room down and join again.
	ErrRoomFailed = errors.New("room: session failed")

	// ErrNoTrack is returned by Mute before the server has acknowledged the
	// published track.
	ErrNoTrack = errors.New("room: no published track")

	// ErrNotRunning is returned by operations that need a live connection.
	ErrNotRunning = errors.New("room: not running")

	// ErrAlreadyRunning is returned by a second call to Run. A room joins
	// once; create a new one to rejoin.
	ErrAlreadyRunning = errors.New("room: already running")

	// ErrInvalidConfig is returned by New for an unusable Config.
	ErrInvalidConfig = errors.New("room: invalid config")

	// ErrMediaQueueFull is returned by SendAudio and SendVideo when the
	// publisher driver has fallen behind.
	ErrMediaQueueFull = errors.New("room: media queue full")

	errTransportDisconnected = errors.New("signaling disconnected")
)

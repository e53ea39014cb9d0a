package signal

import "errors"

// Package errors.
var (
	// ErrDecode is returned when an inbound frame is not a valid SignalResponse.
	ErrDecode = errors.New("signal: malformed frame")

	// ErrMalformedCandidate is returned when a trickle payload cannot be parsed.
	ErrMalformedCandidate = errors.New("signal: malformed trickle candidate")

	// ErrTCPCandidate is returned for candidates using a TCP transport.
	ErrTCPCandidate = errors.New("signal: tcp candidate rejected")

	// ErrUnsupportedType is returned when encoding a type with no request form.
	ErrUnsupportedType = errors.New("signal: unsupported request type")
)

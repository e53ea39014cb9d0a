// Package peer wraps one media-engine session with the role it serves and
// turns engine callbacks into a bounded event stream for its driver.
package peer

import (
	"errors"
	"sync"

	"github.com/pion/logging"

	"github.com/mossy-p/webrtc-device/internal/logutil"
	"github.com/mossy-p/webrtc-device/internal/media"
	"github.com/mossy-p/webrtc-device/internal/models"
)

const defaultEventBuffer = 64

// ErrNoEngine is returned when Config.Engine is nil.
var ErrNoEngine = errors.New("peer: no media engine")

// EventKind identifies an engine notification.
type EventKind int

const (
	// EventLocalDescription carries a locally generated description.
	EventLocalDescription EventKind = iota

	// EventStateChange carries a connection state transition.
	EventStateChange
)

// Event is one engine notification.
type Event struct {
	Kind  EventKind
	SDP   string
	State models.ConnectionState
}

// Config configures a Session.
type Config struct {
	Role   models.PeerRole
	Engine media.Engine

	// EventBuffer bounds the event queue. Default: 64
	EventBuffer int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Session owns one media-engine handle. Apart from Events, its methods must
// only be called by the session's driver.
type Session struct {
	role   models.PeerRole
	engine media.Engine
	log    logging.LeveledLogger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// New wraps config.Engine and registers its callbacks.
func New(config Config) (*Session, error) {
	if config.Engine == nil {
		return nil, ErrNoEngine
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}

	s := &Session{
		role:   config.Role,
		engine: config.Engine,
		log:    logutil.Scoped(config.LoggerFactory, "peer-"+config.Role.String()),
		events: make(chan Event, config.EventBuffer),
		done:   make(chan struct{}),
	}

	s.engine.OnLocalDescription(func(sdp string) {
		s.emit(Event{Kind: EventLocalDescription, SDP: sdp})
	})
	s.engine.OnConnectionStateChange(func(state models.ConnectionState) {
		s.emit(Event{Kind: EventStateChange, State: state})
	})
	return s, nil
}

// Role returns the role fixed at creation.
func (s *Session) Role() models.PeerRole {
	return s.role
}

// State returns the engine's current connection state.
func (s *Session) State() models.ConnectionState {
	return s.engine.State()
}

// Events delivers engine notifications in the order they fired.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Pump runs one iteration of engine work.
func (s *Session) Pump() {
	s.engine.Pump()
}

// CreateOffer starts local offer generation.
func (s *Session) CreateOffer() error {
	return s.engine.CreateOffer()
}

// ApplyPendingRemote applies and clears update. The remote description, if
// any, is always applied. The candidate is applied after it, unless the
// session is already established, in which case it is dropped: adding a
// candidate to an established session breaks it.
func (s *Session) ApplyPendingRemote(update *models.PendingRemoteUpdate) {
	taken := update.Take()

	if taken.RemoteDescription != "" {
		if err := s.engine.SetRemoteDescription(taken.RemoteDescription); err != nil {
			s.log.Errorf("set remote description: %v", err)
		}
	}

	if taken.ICECandidate == "" {
		return
	}
	if state := s.engine.State(); state.Established() {
		s.log.Debugf("dropping candidate, session already %s", state)
		return
	}
	if err := s.engine.AddICECandidate(taken.ICECandidate); err != nil {
		s.log.Warnf("add ice candidate: %v", err)
	}
}

// SendAudio forwards one encoded audio frame to the engine.
func (s *Session) SendAudio(frame []byte) error {
	return s.engine.SendAudio(frame)
}

// SendVideo forwards one encoded video frame to the engine.
func (s *Session) SendVideo(frame []byte) error {
	return s.engine.SendVideo(frame)
}

// Close releases the engine. Pending callbacks are discarded.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.engine.Close()
	})
	return err
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Package room runs one join of a room: the signaling connection, the
// publisher and subscriber sessions, and the negotiation between them.
package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/mossy-p/webrtc-device/internal/auth"
	"github.com/mossy-p/webrtc-device/internal/logutil"
	"github.com/mossy-p/webrtc-device/internal/media"
	"github.com/mossy-p/webrtc-device/internal/models"
	"github.com/mossy-p/webrtc-device/internal/peer"
	"github.com/mossy-p/webrtc-device/internal/signal"
	"github.com/mossy-p/webrtc-device/internal/transport"
)

const (
	defaultProtocolVersion        = 9
	defaultTrackName              = "microphone"
	defaultSignalingInterval      = 200 * time.Millisecond
	defaultSubscriberPumpInterval = time.Millisecond
	defaultPublisherPumpInterval  = 20 * time.Millisecond
	defaultInboundQueue           = 64
	defaultMediaQueue             = 16
)

// Conn is the signaling connection used by a Room.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Dialer opens the signaling connection. Events must be delivered to h.
type Dialer func(ctx context.Context, url string, h transport.Handler) (Conn, error)

// Config configures a Room.
type Config struct {
	RoomURL string
	Token   string

	// ProtocolVersion is sent in the join query. Default: 9
	ProtocolVersion int

	// TrackName names the published microphone track. Default: "microphone"
	TrackName string

	SignalingInterval      time.Duration
	SubscriberPumpInterval time.Duration
	PublisherPumpInterval  time.Duration

	// NewEngine creates the media engine for each session. Required.
	NewEngine media.Factory

	// Dial opens the signaling connection. Defaults to a websocket client.
	Dial Dialer

	// InboundQueue bounds frames waiting for the dispatcher. Default: 64
	InboundQueue int

	// Now and NewTrackCid are overridable for tests.
	Now         func() time.Time
	NewTrackCid func() string

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Room is a single join of a room. It runs once; rejoining takes a new Room.
type Room struct {
	config Config
	log    logging.LeveledLogger
	neg    *negotiation

	inbound chan []byte
	media   chan mediaFrame
	done    chan struct{}
	wg      sync.WaitGroup

	started  atomic.Bool
	failed   chan struct{}
	failOnce sync.Once
	failErr  error

	mu   sync.Mutex
	conn Conn
}

// New validates config and creates an idle Room.
func New(config Config) (*Room, error) {
	if config.RoomURL == "" {
		return nil, fmt.Errorf("%w: room url required", ErrInvalidConfig)
	}
	if config.Token == "" {
		return nil, fmt.Errorf("%w: access token required", ErrInvalidConfig)
	}
	if config.NewEngine == nil {
		return nil, fmt.Errorf("%w: media engine factory required", ErrInvalidConfig)
	}
	if config.ProtocolVersion <= 0 {
		config.ProtocolVersion = defaultProtocolVersion
	}
	if config.TrackName == "" {
		config.TrackName = defaultTrackName
	}
	if config.SignalingInterval <= 0 {
		config.SignalingInterval = defaultSignalingInterval
	}
	if config.SubscriberPumpInterval <= 0 {
		config.SubscriberPumpInterval = defaultSubscriberPumpInterval
	}
	if config.PublisherPumpInterval <= 0 {
		config.PublisherPumpInterval = defaultPublisherPumpInterval
	}
	if config.InboundQueue <= 0 {
		config.InboundQueue = defaultInboundQueue
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewTrackCid == nil {
		config.NewTrackCid = uuid.NewString
	}
	if config.Dial == nil {
		config.Dial = websocketDialer(config.LoggerFactory)
	}

	log := logutil.Scoped(config.LoggerFactory, "room")
	return &Room{
		config:  config,
		log:     log,
		neg:     newNegotiation(log),
		inbound: make(chan []byte, config.InboundQueue),
		media:   make(chan mediaFrame, defaultMediaQueue),
		done:    make(chan struct{}),
		failed:  make(chan struct{}),
	}, nil
}

func websocketDialer(factory logging.LoggerFactory) Dialer {
	return func(ctx context.Context, url string, h transport.Handler) (Conn, error) {
		client, err := transport.Dial(ctx, url, transport.Options{LoggerFactory: factory}, h)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Run joins the room and blocks until ctx is cancelled or the session fails.
// Cancellation sends a leave request and returns nil. Every failure is
// returned wrapped in ErrRoomFailed.
func (r *Room) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	claims, err := auth.ParseAccessToken(r.config.Token, r.config.Now())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRoomFailed, err)
	}
	r.neg.setJoin(claims.Room(), claims.Identity())

	publisher, err := r.newSession(models.RolePublisher)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRoomFailed, err)
	}
	defer r.closeSession(publisher)

	subscriber, err := r.newSession(models.RoleSubscriber)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRoomFailed, err)
	}
	defer r.closeSession(subscriber)

	url := signal.JoinURL(r.config.RoomURL, r.config.Token, r.config.ProtocolVersion)
	r.log.Infof("joining room %q as %q", claims.Room(), claims.Identity())
	conn, err := r.config.Dial(ctx, url, r.onTransport)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRoomFailed, err)
	}
	r.setConnection(conn)

	r.wg.Add(4)
	go r.dispatch()
	go r.drive(publisher, r.config.PublisherPumpInterval)
	go r.drive(subscriber, r.config.SubscriberPumpInterval)
	go r.signalingLoop(r.config.SignalingInterval)

	select {
	case <-ctx.Done():
	case <-r.failed:
	}

	// A failure wins over a cancellation that raced with it.
	var runErr error
	select {
	case <-r.failed:
		runErr = fmt.Errorf("%w: %w", ErrRoomFailed, r.failErr)
		r.log.Errorf("room failed: %v", r.failErr)
	default:
		r.log.Info("leaving room")
	}

	close(r.done)
	r.wg.Wait()

	if runErr == nil {
		if err := r.send(models.SignalMessage{Type: models.SignalTypeLeave}); err != nil {
			r.log.Warnf("leave: %v", err)
		}
	}
	r.setConnection(nil)
	if err := conn.Close(); err != nil {
		r.log.Warnf("close signaling: %v", err)
	}
	return runErr
}

// Snapshot returns the current negotiation and connection state.
func (r *Room) Snapshot() models.RoomSnapshot {
	return r.neg.snapshot()
}

// Mute mutes or unmutes the published microphone track.
func (r *Room) Mute(muted bool) error {
	if r.connection() == nil {
		return ErrNotRunning
	}
	msg, err := r.neg.mute(muted)
	if err != nil {
		return err
	}
	return r.send(msg)
}

type mediaFrame struct {
	video bool
	data  []byte
}

// SendAudio queues one encoded audio frame for the publisher session. Frames
// are written by the publisher driver on its next iteration.
func (r *Room) SendAudio(frame []byte) error {
	return r.queueMedia(mediaFrame{data: frame})
}

// SendVideo queues one encoded video frame for the publisher session.
func (r *Room) SendVideo(frame []byte) error {
	return r.queueMedia(mediaFrame{video: true, data: frame})
}

func (r *Room) queueMedia(frame mediaFrame) error {
	if r.connection() == nil {
		return ErrNotRunning
	}
	select {
	case r.media <- frame:
		return nil
	default:
		return ErrMediaQueueFull
	}
}

func (r *Room) newSession(role models.PeerRole) (*peer.Session, error) {
	engine, err := r.config.NewEngine(role)
	if err != nil {
		return nil, fmt.Errorf("create %s engine: %w", role, err)
	}
	s, err := peer.New(peer.Config{
		Role:          role,
		Engine:        engine,
		LoggerFactory: r.config.LoggerFactory,
	})
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("create %s session: %w", role, err)
	}
	return s, nil
}

func (r *Room) closeSession(s *peer.Session) {
	if err := s.Close(); err != nil {
		r.log.Warnf("close %s session: %v", s.Role(), err)
	}
}

// fail records the first fatal condition and stops the room.
func (r *Room) fail(err error) {
	r.failOnce.Do(func() {
		r.failErr = err
		close(r.failed)
	})
}

func (r *Room) connection() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *Room) setConnection(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = conn
}

package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/mossy-p/webrtc-device/internal/models"
)

const (
	audioFrameDuration = 20 * time.Millisecond
	videoFrameDuration = 33 * time.Millisecond
)

// PionConfig configures pion/webrtc backed engines.
type PionConfig struct {
	// ICEServers are passed to every PeerConnection.
	ICEServers []webrtc.ICEServer

	// Video adds an H264 track to the publisher session.
	Video bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// PionEngine adapts a pion PeerConnection to the Engine boundary. pion runs
// ICE and DTLS on its own goroutines, so Pump has no work to do.
type PionEngine struct {
	role  models.PeerRole
	pc    *webrtc.PeerConnection
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
	log   logging.LeveledLogger

	mu      sync.Mutex
	state   models.ConnectionState
	onLocal func(string)
	onState func(models.ConnectionState)
}

// NewPionFactory returns a Factory producing PionEngines.
func NewPionFactory(config PionConfig) Factory {
	return func(role models.PeerRole) (Engine, error) {
		e, err := NewPionEngine(role, config)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// NewPionEngine creates the PeerConnection for one role. Publisher sessions
// carry an opus track (and H264 when enabled); subscriber sessions only
// receive. Only UDP candidates are gathered.
func NewPionEngine(role models.PeerRole, config PionConfig) (*PionEngine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	if config.LoggerFactory != nil {
		se.LoggerFactory = config.LoggerFactory
	}
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})
	if role == models.RoleSubscriber {
		// The synthesized answer declares a=setup:passive.
		if err := se.SetAnsweringDTLSRole(webrtc.DTLSRoleServer); err != nil {
			return nil, err
		}
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	e := &PionEngine{role: role, pc: pc}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("media-" + role.String())
	}

	if role == models.RolePublisher {
		if err := e.addLocalTracks(config.Video); err != nil {
			_ = pc.Close()
			return nil, err
		}
	} else {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			e.logf("remote %s track %s", track.Kind(), track.ID())
			go drain(track)
		})
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			e.logf("data channel %s opened", dc.Label())
		})
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		e.setState(convertState(s))
	})
	return e, nil
}

func (e *PionEngine) addLocalTracks(video bool) error {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "device")
	if err != nil {
		return err
	}
	if _, err := e.pc.AddTrack(audio); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	e.audio = audio

	if !video {
		return nil
	}
	v, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video", "device")
	if err != nil {
		return err
	}
	if _, err := e.pc.AddTrack(v); err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	e.video = v
	return nil
}

// Pump implements Engine.
func (e *PionEngine) Pump() {}

// State implements Engine.
func (e *PionEngine) State() models.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetRemoteDescription applies a remote offer (subscriber) or answer
// (publisher). For an offer the local answer is generated and delivered,
// after gathering completes, to the local description callback.
func (e *PionEngine) SetRemoteDescription(sdp string) error {
	if e.role == models.RolePublisher {
		return e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	}

	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	return e.setLocal(answer)
}

// AddICECandidate implements Engine.
func (e *PionEngine) AddICECandidate(candidate string) error {
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

// CreateOffer implements Engine.
func (e *PionEngine) CreateOffer() error {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	return e.setLocal(offer)
}

func (e *PionEngine) setLocal(desc webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(e.pc)
	if err := e.pc.SetLocalDescription(desc); err != nil {
		return err
	}

	go func() {
		<-gathered
		local := e.pc.LocalDescription()
		if local == nil {
			return
		}
		e.mu.Lock()
		cb := e.onLocal
		e.mu.Unlock()
		if cb != nil {
			cb(local.SDP)
		}
	}()
	return nil
}

// OnLocalDescription implements Engine.
func (e *PionEngine) OnLocalDescription(cb func(sdp string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLocal = cb
}

// OnConnectionStateChange implements Engine.
func (e *PionEngine) OnConnectionStateChange(cb func(models.ConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = cb
}

// SendAudio writes one 20ms opus frame.
func (e *PionEngine) SendAudio(frame []byte) error {
	if e.audio == nil {
		return ErrNoTrack
	}
	return e.audio.WriteSample(pionmedia.Sample{Data: frame, Duration: audioFrameDuration})
}

// SendVideo writes one H264 access unit.
func (e *PionEngine) SendVideo(frame []byte) error {
	if e.video == nil {
		return ErrNoTrack
	}
	return e.video.WriteSample(pionmedia.Sample{Data: frame, Duration: videoFrameDuration})
}

// Close implements Engine.
func (e *PionEngine) Close() error {
	return e.pc.Close()
}

func (e *PionEngine) setState(s models.ConnectionState) {
	e.mu.Lock()
	e.state = s
	cb := e.onState
	e.mu.Unlock()

	e.logf("connection state %s", s)
	if cb != nil {
		cb(s)
	}
}

func (e *PionEngine) logf(format string, args ...interface{}) {
	if e.log != nil {
		e.log.Debugf(format, args...)
	}
}

func drain(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

func convertState(s webrtc.ICEConnectionState) models.ConnectionState {
	switch s {
	case webrtc.ICEConnectionStateChecking:
		return models.StateChecking
	case webrtc.ICEConnectionStateConnected:
		return models.StateConnected
	case webrtc.ICEConnectionStateCompleted:
		return models.StateCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return models.StateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return models.StateFailed
	case webrtc.ICEConnectionStateClosed:
		return models.StateClosed
	default:
		return models.StateNew
	}
}

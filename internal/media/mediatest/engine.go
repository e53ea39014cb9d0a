// Package mediatest provides a scriptable in-memory media engine that records
// every call made to it.
package mediatest

import (
	"fmt"
	"sync"

	"github.com/mossy-p/webrtc-device/internal/media"
	"github.com/mossy-p/webrtc-device/internal/models"
)

// Credentials embedded in every description the fake generates.
const (
	Ufrag       = "fakeUfrag"
	Pwd         = "fakePwdfakePwdfakePwd123"
	Fingerprint = "sha-256 11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00"
)

// Method names recorded in Calls.
const (
	MethodSetRemoteDescription = "SetRemoteDescription"
	MethodAddICECandidate      = "AddICECandidate"
	MethodCreateOffer          = "CreateOffer"
)

// Call is one recorded engine call.
type Call struct {
	Method string
	Arg    string
	State  models.ConnectionState
}

// Engine is a fake media engine. Like an embedded engine, it fires the local
// description callback synchronously: after a remote offer for the subscriber
// role and after CreateOffer for the publisher role.
type Engine struct {
	role models.PeerRole

	mu      sync.Mutex
	state   models.ConnectionState
	calls   []Call
	pumps   int
	audio   int
	video   int
	closed  bool
	onLocal func(string)
	onState func(models.ConnectionState)
}

// New creates a fake engine for role.
func New(role models.PeerRole) *Engine {
	return &Engine{role: role}
}

// Pair holds one fake engine per role.
type Pair struct {
	Publisher  *Engine
	Subscriber *Engine
}

// NewPair creates fakes for both roles.
func NewPair() *Pair {
	return &Pair{Publisher: New(models.RolePublisher), Subscriber: New(models.RoleSubscriber)}
}

// Factory returns a media.Factory handing out the pair's engines.
func (p *Pair) Factory() media.Factory {
	return func(role models.PeerRole) (media.Engine, error) {
		switch role {
		case models.RolePublisher:
			return p.Publisher, nil
		case models.RoleSubscriber:
			return p.Subscriber, nil
		default:
			return nil, fmt.Errorf("mediatest: unknown role %d", role)
		}
	}
}

// LocalDescription is the description the fake generates for role.
func LocalDescription(role models.PeerRole) string {
	desc := "v=0\r\n" +
		"o=- 1 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=ice-ufrag:" + Ufrag + "\r\n" +
		"a=ice-pwd:" + Pwd + "\r\n" +
		"a=fingerprint:" + Fingerprint + "\r\n" +
		"a=mid:0\r\n"
	if role == models.RolePublisher {
		desc += "m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
			"c=IN IP4 0.0.0.0\r\n" +
			"a=mid:1\r\n" +
			"a=rtpmap:111 opus/48000/2\r\n" +
			"a=sendonly\r\n"
	}
	return desc
}

// Pump implements media.Engine.
func (e *Engine) Pump() {
	e.mu.Lock()
	e.pumps++
	e.mu.Unlock()
}

// State implements media.Engine.
func (e *Engine) State() models.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetRemoteDescription implements media.Engine.
func (e *Engine) SetRemoteDescription(sdp string) error {
	e.record(MethodSetRemoteDescription, sdp)
	if e.role == models.RoleSubscriber {
		e.fireLocal(LocalDescription(e.role))
	}
	return nil
}

// AddICECandidate implements media.Engine.
func (e *Engine) AddICECandidate(candidate string) error {
	e.record(MethodAddICECandidate, candidate)
	return nil
}

// CreateOffer implements media.Engine.
func (e *Engine) CreateOffer() error {
	e.record(MethodCreateOffer, "")
	e.fireLocal(LocalDescription(e.role))
	return nil
}

// OnLocalDescription implements media.Engine.
func (e *Engine) OnLocalDescription(cb func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLocal = cb
}

// OnConnectionStateChange implements media.Engine.
func (e *Engine) OnConnectionStateChange(cb func(models.ConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = cb
}

// SendAudio implements media.Engine.
func (e *Engine) SendAudio([]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audio++
	return nil
}

// SendVideo implements media.Engine.
func (e *Engine) SendVideo([]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.video++
	return nil
}

// Close implements media.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// SetState changes the connection state and fires the state callback, as the
// engine would on a transport-level transition.
func (e *Engine) SetState(s models.ConnectionState) {
	e.mu.Lock()
	e.state = s
	cb := e.onState
	e.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Calls returns a copy of the recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Count returns how many times method was called.
func (e *Engine) Count(method string) int {
	n := 0
	for _, c := range e.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Pumps returns how many times Pump was called.
func (e *Engine) Pumps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pumps
}

// Frames returns how many audio and video frames were sent.
func (e *Engine) Frames() (audio, video int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.audio, e.video
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) record(method, arg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Method: method, Arg: arg, State: e.state})
}

func (e *Engine) fireLocal(sdp string) {
	e.mu.Lock()
	cb := e.onLocal
	e.mu.Unlock()
	if cb != nil {
		cb(sdp)
	}
}

package room

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/livekit/protocol/livekit"
	"github.com/pion/transport/v3/test"
	"google.golang.org/protobuf/proto"

	"github.com/mossy-p/webrtc-device/internal/auth"
	"github.com/mossy-p/webrtc-device/internal/media/mediatest"
	"github.com/mossy-p/webrtc-device/internal/models"
	"github.com/mossy-p/webrtc-device/internal/signal"
	"github.com/mossy-p/webrtc-device/internal/transport"
)

// fakeConn is an in-memory signaling connection. Frames sent by the room are
// decoded and recorded; frames from the server are injected with deliver.
type fakeConn struct {
	mu      sync.Mutex
	url     string
	handler transport.Handler
	sent    []*livekit.SignalRequest
	closed  bool
	dialed  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{dialed: make(chan struct{})}
}

func (c *fakeConn) dial(_ context.Context, url string, h transport.Handler) (Conn, error) {
	c.mu.Lock()
	c.url = url
	c.handler = h
	c.mu.Unlock()

	h(transport.Event{Kind: transport.EventConnected})
	close(c.dialed)
	return c, nil
}

func (c *fakeConn) Send(data []byte) error {
	req := &livekit.SignalRequest{}
	if err := proto.Unmarshal(data, req); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, req)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) requests() []*livekit.SignalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*livekit.SignalRequest(nil), c.sent...)
}

func (c *fakeConn) event(ev transport.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(ev)
}

func (c *fakeConn) raw(data []byte) {
	c.event(transport.Event{Kind: transport.EventFrame, Data: data})
}

func (c *fakeConn) deliver(t *testing.T, res *livekit.SignalResponse) {
	t.Helper()
	data, err := proto.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	c.raw(data)
}

func offer(sdp string) *livekit.SignalResponse {
	return &livekit.SignalResponse{Message: &livekit.SignalResponse_Offer{
		Offer: &livekit.SessionDescription{Type: "offer", Sdp: sdp},
	}}
}

func answer(sdp string) *livekit.SignalResponse {
	return &livekit.SignalResponse{Message: &livekit.SignalResponse_Answer{
		Answer: &livekit.SessionDescription{Type: "answer", Sdp: sdp},
	}}
}

func trickle(t *testing.T, candidate string, target livekit.SignalTarget) *livekit.SignalResponse {
	t.Helper()
	init, err := signal.EncodeTrickle(candidate)
	if err != nil {
		t.Fatalf("encode trickle: %v", err)
	}
	return &livekit.SignalResponse{Message: &livekit.SignalResponse_Trickle{
		Trickle: &livekit.TrickleRequest{CandidateInit: init, Target: target},
	}}
}

func trackPublished(cid, sid string) *livekit.SignalResponse {
	return &livekit.SignalResponse{Message: &livekit.SignalResponse_TrackPublished{
		TrackPublished: &livekit.TrackPublishedResponse{
			Cid:   cid,
			Track: &livekit.TrackInfo{Sid: sid, Name: "microphone"},
		},
	}}
}

func testToken(t *testing.T, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.AccessClaims{
		Video: &auth.VideoGrant{Room: "device-room", RoomJoin: true},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "device-1",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	s, err := token.SignedString([]byte("room-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

type harness struct {
	room    *Room
	conn    *fakeConn
	engines *mediatest.Pair

	cancel   context.CancelFunc
	errc     chan error
	stopOnce sync.Once
	err      error
}

func startRoom(t *testing.T) *harness {
	t.Helper()

	lim := test.TimeOut(20 * time.Second)
	t.Cleanup(func() { lim.Stop() })

	h := &harness{
		conn:    newFakeConn(),
		engines: mediatest.NewPair(),
		errc:    make(chan error, 1),
	}

	r, err := New(Config{
		RoomURL:                "wss://rooms.example.com/",
		Token:                  testToken(t, time.Now().Add(time.Hour)),
		SignalingInterval:      2 * time.Millisecond,
		SubscriberPumpInterval: time.Millisecond,
		PublisherPumpInterval:  time.Millisecond,
		NewEngine:              h.engines.Factory(),
		Dial:                   h.conn.dial,
		NewTrackCid:            fixedCid,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.room = r

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- r.Run(ctx) }()

	select {
	case <-h.conn.dialed:
	case err := <-h.errc:
		t.Fatalf("Run returned before dialing: %v", err)
	}

	t.Cleanup(func() { _ = h.stop() })
	return h
}

// stop cancels the room and returns the result of Run.
func (h *harness) stop() error {
	h.stopOnce.Do(func() {
		h.cancel()
		h.err = <-h.errc
	})
	return h.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// settle lets every loop run several iterations.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

func (h *harness) answers() []string {
	var out []string
	for _, req := range h.conn.requests() {
		if a := req.GetAnswer(); a != nil {
			out = append(out, a.GetSdp())
		}
	}
	return out
}

func (h *harness) find(match func(*livekit.SignalRequest) bool) *livekit.SignalRequest {
	for _, req := range h.conn.requests() {
		if match(req) {
			return req
		}
	}
	return nil
}

func TestJoinURL(t *testing.T) {
	h := startRoom(t)

	h.conn.mu.Lock()
	url := h.conn.url
	h.conn.mu.Unlock()

	if !strings.HasPrefix(url, "wss://rooms.example.com/rtc?protocol=9&access_token=") || !strings.HasSuffix(url, "&auto_subscribe=true") {
		t.Fatalf("unexpected join url %q", url)
	}

	snap := h.room.Snapshot()
	if snap.RoomName != "device-room" || snap.Identity != "device-1" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestOfferWithAudioIsAnswered(t *testing.T) {
	h := startRoom(t)

	offerSDP := mediatest.LocalDescription(models.RolePublisher)
	h.conn.deliver(t, offer(offerSDP))

	waitFor(t, "answer", func() bool { return len(h.answers()) > 0 })

	sub := h.engines.Subscriber
	calls := sub.Calls()
	if len(calls) == 0 || calls[0].Method != mediatest.MethodSetRemoteDescription || calls[0].Arg != offerSDP {
		t.Fatalf("offer not applied to subscriber: %+v", calls)
	}

	sdp := h.answers()[0]
	for _, want := range []string{
		"m=audio",
		"a=ice-ufrag:" + mediatest.Ufrag,
		"a=ice-pwd:" + mediatest.Pwd,
		"a=fingerprint:" + mediatest.Fingerprint,
	} {
		if !strings.Contains(sdp, want) {
			t.Errorf("answer missing %q:\n%s", want, sdp)
		}
	}

	settle()
	if n := len(h.answers()); n != 1 {
		t.Fatalf("sent %d answers, want 1", n)
	}
	if snap := h.room.Snapshot(); snap.SubscriberState != models.SubscriberIdle.String() || !snap.CredentialsReady {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestTrickleBeforeOffer(t *testing.T) {
	h := startRoom(t)
	sub := h.engines.Subscriber

	h.conn.deliver(t, trickle(t, testCandidate, livekit.SignalTarget_SUBSCRIBER))
	settle()
	if n := sub.Count(mediatest.MethodAddICECandidate); n != 0 {
		t.Fatalf("candidate applied before remote description (%d calls)", n)
	}

	h.conn.deliver(t, offer(mediatest.LocalDescription(models.RoleSubscriber)))
	waitFor(t, "answer", func() bool { return len(h.answers()) > 0 })

	calls := sub.Calls()
	if len(calls) != 2 || calls[0].Method != mediatest.MethodSetRemoteDescription || calls[1].Method != mediatest.MethodAddICECandidate {
		t.Fatalf("unexpected subscriber calls: %+v", calls)
	}
	if calls[1].Arg != testCandidate {
		t.Fatalf("applied candidate %q", calls[1].Arg)
	}
	if strings.Contains(h.answers()[0], "m=audio") {
		t.Fatalf("answer to data-only offer has audio:\n%s", h.answers()[0])
	}

	// Candidates arriving after the session is established are dropped.
	sub.SetState(models.StateConnected)
	h.conn.deliver(t, trickle(t, "candidate:2 1 udp 2130706431 192.168.1.21 50001 typ host", livekit.SignalTarget_SUBSCRIBER))
	settle()

	if n := sub.Count(mediatest.MethodAddICECandidate); n != 1 {
		t.Fatalf("AddICECandidate calls = %d, want 1", n)
	}
	for _, c := range sub.Calls() {
		if c.Method == mediatest.MethodAddICECandidate && c.State.Established() {
			t.Fatalf("candidate applied in state %s", c.State)
		}
	}
}

func TestTCPCandidatesFiltered(t *testing.T) {
	h := startRoom(t)
	sub := h.engines.Subscriber

	for _, c := range []string{
		"candidate:1 1 tcp 1518280447 192.168.1.20 9 typ host tcptype active",
		"candidate:2 1 TCP 1518280447 192.168.1.20 9 typ host tcptype passive",
	} {
		h.conn.deliver(t, trickle(t, c, livekit.SignalTarget_SUBSCRIBER))
	}
	h.conn.deliver(t, offer(mediatest.LocalDescription(models.RoleSubscriber)))
	waitFor(t, "answer", func() bool { return len(h.answers()) > 0 })

	if n := sub.Count(mediatest.MethodAddICECandidate); n != 0 {
		t.Fatalf("tcp candidate reached the engine (%d calls)", n)
	}
}

func TestTrackPublishedBeforeSubscriberConnects(t *testing.T) {
	h := startRoom(t)

	h.conn.deliver(t, offer(mediatest.LocalDescription(models.RoleSubscriber)))
	h.conn.deliver(t, trackPublished("TR_cid1", "TR_sid1"))
	h.engines.Subscriber.SetState(models.StateChecking)
	settle()

	if req := h.find(func(r *livekit.SignalRequest) bool { return r.GetAddTrack() != nil }); req != nil {
		t.Fatalf("add track sent before subscriber connected: %v", req)
	}
	if n := h.engines.Publisher.Count(mediatest.MethodCreateOffer); n != 0 {
		t.Fatalf("CreateOffer calls = %d, want 0", n)
	}
	if snap := h.room.Snapshot(); snap.PublisherState != models.PublisherIdle.String() || snap.PublishedTrackSid != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestCorruptFrameIsDropped(t *testing.T) {
	h := startRoom(t)
	before := h.room.Snapshot()

	h.conn.raw([]byte{0x12, 0xff, 0xff, 0x01})
	h.conn.raw([]byte{0xff})
	settle()

	if after := h.room.Snapshot(); after != before {
		t.Fatalf("corrupt frame changed state: %+v -> %+v", before, after)
	}

	h.conn.deliver(t, offer(mediatest.LocalDescription(models.RolePublisher)))
	waitFor(t, "answer", func() bool { return len(h.answers()) > 0 })

	if err := h.stop(); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}

func TestUnexpectedAnswerIgnored(t *testing.T) {
	h := startRoom(t)

	h.conn.deliver(t, answer("v=0\r\n"))
	settle()

	if n := h.engines.Publisher.Count(mediatest.MethodSetRemoteDescription); n != 0 {
		t.Fatalf("answer applied with no offer outstanding (%d calls)", n)
	}
}

func TestPublisherNegotiationEndToEnd(t *testing.T) {
	h := startRoom(t)
	pub := h.engines.Publisher

	if err := h.room.Mute(true); !errors.Is(err, ErrNoTrack) {
		t.Fatalf("Mute before publish = %v, want ErrNoTrack", err)
	}

	h.engines.Subscriber.SetState(models.StateConnected)
	waitFor(t, "add track", func() bool {
		return h.find(func(r *livekit.SignalRequest) bool { return r.GetAddTrack() != nil }) != nil
	})

	add := h.find(func(r *livekit.SignalRequest) bool { return r.GetAddTrack() != nil }).GetAddTrack()
	if add.GetCid() != "TR_cid1" || add.GetName() != "microphone" ||
		add.GetType() != livekit.TrackType_AUDIO || add.GetSource() != livekit.TrackSource_MICROPHONE {
		t.Fatalf("unexpected add track: %v", add)
	}

	h.conn.deliver(t, trackPublished("TR_other", "TR_sid_other"))
	settle()
	if n := pub.Count(mediatest.MethodCreateOffer); n != 0 {
		t.Fatalf("offer created for another track (%d calls)", n)
	}

	h.conn.deliver(t, trackPublished("TR_cid1", "TR_sid1"))
	waitFor(t, "offer", func() bool {
		return h.find(func(r *livekit.SignalRequest) bool { return r.GetOffer() != nil }) != nil
	})

	sent := h.find(func(r *livekit.SignalRequest) bool { return r.GetOffer() != nil }).GetOffer()
	if sent.GetSdp() != mediatest.LocalDescription(models.RolePublisher) {
		t.Fatalf("unexpected offer sdp:\n%s", sent.GetSdp())
	}
	if n := pub.Count(mediatest.MethodCreateOffer); n != 1 {
		t.Fatalf("CreateOffer calls = %d, want 1", n)
	}

	h.conn.deliver(t, answer("v=0\r\nanswer\r\n"))
	waitFor(t, "answer applied", func() bool { return pub.Count(mediatest.MethodSetRemoteDescription) == 1 })
	waitFor(t, "publisher idle", func() bool {
		return h.room.Snapshot().PublisherState == models.PublisherIdle.String()
	})

	if err := h.room.Mute(true); err != nil {
		t.Fatalf("Mute: %v", err)
	}
	mute := h.find(func(r *livekit.SignalRequest) bool { return r.GetMute() != nil }).GetMute()
	if mute.GetSid() != "TR_sid1" || !mute.GetMuted() {
		t.Fatalf("unexpected mute: %v", mute)
	}

	if err := h.room.SendAudio([]byte{0xf8, 0xff, 0xfe}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := h.room.SendVideo([]byte{0x00, 0x00, 0x01}); err != nil {
		t.Fatalf("SendVideo: %v", err)
	}
	waitFor(t, "media frames", func() bool {
		audio, video := pub.Frames()
		return audio == 1 && video == 1
	})

	snap := h.room.Snapshot()
	if snap.PublishedTrackSid != "TR_sid1" || !snap.Muted || !snap.SubscriberCompleted {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestFatalSessionStateFailsRoom(t *testing.T) {
	for _, state := range []models.ConnectionState{models.StateDisconnected, models.StateClosed, models.StateFailed} {
		t.Run(state.String(), func(t *testing.T) {
			h := startRoom(t)
			h.engines.Publisher.SetState(state)

			select {
			case err := <-h.errc:
				if !errors.Is(err, ErrRoomFailed) {
					t.Fatalf("Run = %v, want ErrRoomFailed", err)
				}
				h.errc <- err
			case <-time.After(5 * time.Second):
				t.Fatal("room kept running after fatal state")
			}

			if h.find(func(r *livekit.SignalRequest) bool { return r.GetLeave() != nil }) != nil {
				t.Fatal("leave sent on failure")
			}
			if !h.conn.isClosed() || !h.engines.Publisher.Closed() || !h.engines.Subscriber.Closed() {
				t.Fatal("room not torn down")
			}
		})
	}
}

func TestTransportFailureFailsRoom(t *testing.T) {
	tests := []struct {
		name  string
		event transport.Event
	}{
		{"disconnected", transport.Event{Kind: transport.EventDisconnected}},
		{"error", transport.Event{Kind: transport.EventError, Err: errors.New("socket reset")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := startRoom(t)
			// Close frames alone are not failures.
			h.conn.event(transport.Event{Kind: transport.EventFrame, Control: true, Data: []byte{0x03, 0xe9}})
			h.conn.event(tc.event)

			if err := h.stop(); !errors.Is(err, ErrRoomFailed) {
				t.Fatalf("Run = %v, want ErrRoomFailed", err)
			}
		})
	}
}

func TestCancelSendsLeave(t *testing.T) {
	h := startRoom(t)

	if err := h.stop(); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}

	leave := h.find(func(r *livekit.SignalRequest) bool { return r.GetLeave() != nil })
	if leave == nil || leave.GetLeave().GetReason() != livekit.DisconnectReason_CLIENT_INITIATED {
		t.Fatalf("expected client initiated leave, got %v", leave)
	}
	if !h.conn.isClosed() || !h.engines.Publisher.Closed() || !h.engines.Subscriber.Closed() {
		t.Fatal("room not torn down")
	}
	if err := h.room.Mute(false); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Mute after stop = %v, want ErrNotRunning", err)
	}
	if err := h.room.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run = %v, want ErrAlreadyRunning", err)
	}
}

func TestExpiredTokenNotDialed(t *testing.T) {
	conn := newFakeConn()
	r, err := New(Config{
		RoomURL:   "wss://rooms.example.com",
		Token:     testToken(t, time.Now().Add(-time.Minute)),
		NewEngine: mediatest.NewPair().Factory(),
		Dial:      conn.dial,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = r.Run(context.Background())
	if !errors.Is(err, ErrRoomFailed) || !errors.Is(err, auth.ErrTokenExpired) {
		t.Fatalf("Run = %v, want expired token failure", err)
	}
	select {
	case <-conn.dialed:
		t.Fatal("dialed with an expired token")
	default:
	}
}

func TestNewValidatesConfig(t *testing.T) {
	factory := mediatest.NewPair().Factory()
	tests := []struct {
		name   string
		config Config
	}{
		{"missing url", Config{Token: "t", NewEngine: factory}},
		{"missing token", Config{RoomURL: "wss://x", NewEngine: factory}},
		{"missing engine", Config{RoomURL: "wss://x", Token: "t"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.config); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("New = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

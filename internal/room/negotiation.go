package room

import (
	"sync"

	"github.com/pion/logging"

	"github.com/mossy-p/webrtc-device/internal/models"
	"github.com/mossy-p/webrtc-device/internal/sessiondesc"
)

// negotiation is the per-room state shared by the dispatcher, the session
// drivers and the signaling loop. Every field is guarded by mu, and mu is
// never held across a media-engine or transport call.
type negotiation struct {
	mu  sync.Mutex
	log logging.LeveledLogger

	publisher  models.PublisherState
	subscriber models.SubscriberState

	// subscriberCompleted latches the first Connected/Completed of the
	// subscriber session. The publisher cannot leave Idle before it.
	subscriberCompleted bool

	// creds are captured once from the subscriber's first local description.
	creds *models.IceCredentials

	// trackCid is the cid of the outstanding AddTrack request.
	trackCid string
	trackSid string
	muted    bool

	// offerRequested is set once CreateOffer has been issued for the current
	// AwaitLocalOffer; localOffer holds the generated offer until sent.
	offerRequested   bool
	localOffer       string
	offerOutstanding bool

	pending    [2]models.PendingRemoteUpdate
	remoteSeen [2]bool
	conn       [2]models.ConnectionState

	roomName string
	identity string
}

func newNegotiation(log logging.LeveledLogger) *negotiation {
	return &negotiation{log: log}
}

// setPublisher moves the publisher machine, rejecting illegal steps. Caller
// holds mu.
func (n *negotiation) setPublisher(next models.PublisherState) bool {
	if !n.publisher.CanTransition(next) {
		n.log.Warnf("rejecting publisher transition %s -> %s", n.publisher, next)
		return false
	}
	if n.publisher == models.PublisherIdle && next == models.PublisherAwaitAddTrack && !n.subscriberCompleted {
		n.log.Warnf("rejecting publisher start before subscriber completed")
		return false
	}
	n.log.Infof("publisher %s -> %s", n.publisher, next)
	n.publisher = next
	return true
}

func (n *negotiation) setJoin(roomName, identity string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if roomName != "" {
		n.roomName = roomName
	}
	if identity != "" {
		n.identity = identity
	}
}

// onOffer stores a subscriber offer and records which answer it needs.
func (n *negotiation) onOffer(sdp string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pending[models.RoleSubscriber].RemoteDescription != "" {
		n.log.Warn("subscriber offer replaced before it was applied")
	}
	n.pending[models.RoleSubscriber].RemoteDescription = sdp

	next := models.SubscriberNeedAnswerNoMedia
	if sessiondesc.HasAudio(sdp) {
		next = models.SubscriberNeedAnswerWithMedia
	}
	n.log.Infof("subscriber %s -> %s", n.subscriber, next)
	n.subscriber = next
}

// onAnswer stores the publisher's remote answer. Answers with no offer
// outstanding are dropped.
func (n *negotiation) onAnswer(sdp string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.offerOutstanding {
		n.log.Warn("dropping answer, no offer outstanding")
		return false
	}
	if !n.setPublisher(models.PublisherAwaitRemoteAnswer) {
		return false
	}
	n.offerOutstanding = false
	n.pending[models.RolePublisher].RemoteDescription = sdp
	return true
}

// onTrickle stores a remote candidate for role, replacing any candidate not
// yet applied.
func (n *negotiation) onTrickle(role models.PeerRole, candidate string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pending[role].ICECandidate != "" {
		n.log.Warnf("%s candidate dropped, replaced before it was applied", role)
	}
	n.pending[role].ICECandidate = candidate
}

// onTrackPublished advances the publisher once the server acknowledges the
// track requested by AddTrack.
func (n *negotiation) onTrackPublished(cid, sid string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.publisher != models.PublisherAwaitAddTrack || n.trackCid == "" || cid != n.trackCid {
		n.log.Debugf("ignoring track published for cid %q", cid)
		return false
	}
	if !n.setPublisher(models.PublisherAwaitLocalOffer) {
		return false
	}
	n.trackSid = sid
	n.trackCid = ""
	return true
}

// onLocalDescription handles a description generated by the engine.
func (n *negotiation) onLocalDescription(role models.PeerRole, sdp string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch role {
	case models.RoleSubscriber:
		if n.creds != nil {
			return
		}
		creds, err := sessiondesc.ExtractCredentials(sdp)
		if err != nil {
			n.log.Errorf("subscriber local description: %v", err)
			return
		}
		n.creds = &creds
		n.log.Info("subscriber ICE credentials captured")

	case models.RolePublisher:
		if n.publisher != models.PublisherAwaitLocalOffer {
			n.log.Warnf("dropping local offer in publisher state %s", n.publisher)
			return
		}
		if n.setPublisher(models.PublisherAwaitSendOffer) {
			n.localOffer = sdp
			n.offerRequested = false
		}
	}
}

// onStateChange records a connection state and arms the publisher on the
// subscriber's first completion. It reports whether the state is fatal.
func (n *negotiation) onStateChange(role models.PeerRole, state models.ConnectionState) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.conn[role] = state
	if role == models.RoleSubscriber && state.Established() && !n.subscriberCompleted {
		n.subscriberCompleted = true
		if n.publisher == models.PublisherIdle {
			n.setPublisher(models.PublisherAwaitAddTrack)
		}
	}
	return state.Fatal()
}

// takePending snapshots and clears the slot for role. A candidate stays in
// the slot until the session has, or is about to receive, a remote
// description.
func (n *negotiation) takePending(role models.PeerRole) models.PendingRemoteUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()

	slot := &n.pending[role]
	if slot.RemoteDescription == "" && !n.remoteSeen[role] {
		return models.PendingRemoteUpdate{}
	}

	taken := slot.Take()
	if taken.RemoteDescription != "" {
		n.remoteSeen[role] = true
		if role == models.RolePublisher && n.publisher == models.PublisherAwaitRemoteAnswer {
			n.setPublisher(models.PublisherIdle)
		}
	}
	return taken
}

// takeCreateOffer reports whether the publisher driver should create the
// local offer now. It returns true once per AwaitLocalOffer.
func (n *negotiation) takeCreateOffer() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.publisher != models.PublisherAwaitLocalOffer || n.offerRequested {
		return false
	}
	n.offerRequested = true
	return true
}

// collectOutbound returns the frames due this tick and applies the
// transitions their sending implies.
func (n *negotiation) collectOutbound(newCid func() string, trackName string) []models.SignalMessage {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []models.SignalMessage

	if n.publisher == models.PublisherAwaitAddTrack && n.trackCid == "" {
		n.trackCid = newCid()
		out = append(out, models.SignalMessage{
			Type:      models.SignalTypeAddTrack,
			TrackCid:  n.trackCid,
			TrackName: trackName,
		})
	}

	if n.publisher == models.PublisherAwaitSendOffer && n.localOffer != "" {
		if n.setPublisher(models.PublisherIdle) {
			out = append(out, models.SignalMessage{Type: models.SignalTypeOffer, SDP: n.localOffer})
			n.localOffer = ""
			n.offerOutstanding = true
		}
	}

	if n.subscriber.NeedsAnswer() && n.creds != nil {
		answer, err := sessiondesc.SynthesizeAnswer(*n.creds, n.subscriber == models.SubscriberNeedAnswerWithMedia)
		if err != nil {
			n.log.Errorf("synthesize answer: %v", err)
		} else {
			out = append(out, models.SignalMessage{Type: models.SignalTypeAnswer, SDP: answer})
			n.log.Infof("subscriber %s -> %s", n.subscriber, models.SubscriberIdle)
			n.subscriber = models.SubscriberIdle
		}
	}

	return out
}

// mute builds a mute request for the published track.
func (n *negotiation) mute(muted bool) (models.SignalMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.trackSid == "" {
		return models.SignalMessage{}, ErrNoTrack
	}
	n.muted = muted
	return models.SignalMessage{Type: models.SignalTypeMute, TrackSid: n.trackSid, Muted: muted}, nil
}

func (n *negotiation) publisherEstablished() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn[models.RolePublisher].Established()
}

func (n *negotiation) snapshot() models.RoomSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	return models.RoomSnapshot{
		RoomName:            n.roomName,
		Identity:            n.identity,
		PublisherState:      n.publisher.String(),
		SubscriberState:     n.subscriber.String(),
		PublisherConn:       n.conn[models.RolePublisher].String(),
		SubscriberConn:      n.conn[models.RoleSubscriber].String(),
		SubscriberCompleted: n.subscriberCompleted,
		CredentialsReady:    n.creds != nil,
		PublishedTrackSid:   n.trackSid,
		Muted:               n.muted,
	}
}

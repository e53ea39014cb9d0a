package room

import (
	"errors"
	"fmt"

	"github.com/mossy-p/webrtc-device/internal/models"
	"github.com/mossy-p/webrtc-device/internal/signal"
	"github.com/mossy-p/webrtc-device/internal/transport"
)

// onTransport is the transport handler. It runs on the transport's read
// goroutine, so it only queues frames and reports failures.
func (r *Room) onTransport(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		r.log.Info("signaling connected")
	case transport.EventDisconnected:
		r.fail(errTransportDisconnected)
	case transport.EventError:
		r.fail(fmt.Errorf("signaling: %w", ev.Err))
	case transport.EventFrame:
		if ev.Control {
			r.log.Infof("signaling close frame, code %d", ev.CloseCode())
			return
		}
		select {
		case r.inbound <- ev.Data:
		case <-r.done:
		}
	}
}

// dispatch drains the inbound queue until the room stops.
func (r *Room) dispatch() {
	defer r.wg.Done()
	for {
		select {
		case frame := <-r.inbound:
			r.handleFrame(frame)
		case <-r.done:
			return
		}
	}
}

// handleFrame decodes one binary frame and handles it. Undecodable frames are
// dropped without touching negotiation state.
func (r *Room) handleFrame(frame []byte) {
	msg, err := signal.Decode(frame)
	if err != nil {
		r.log.Warnf("dropping frame: %v", err)
		return
	}
	r.handle(msg)
}

func (r *Room) handle(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypeJoin:
		r.log.Infof("joined room %q as %q (server %s)", msg.RoomName, msg.Identity, msg.ServerVersion)
		r.neg.setJoin(msg.RoomName, msg.Identity)

	case models.SignalTypeOffer:
		r.log.Debug("subscriber offer received")
		r.neg.onOffer(msg.SDP)

	case models.SignalTypeAnswer:
		r.log.Debug("publisher answer received")
		r.neg.onAnswer(msg.SDP)

	case models.SignalTypeTrickle:
		candidate, err := signal.ParseTrickle(msg.CandidateInit)
		if err != nil {
			if errors.Is(err, signal.ErrTCPCandidate) {
				r.log.Debug("dropping tcp candidate")
			} else {
				r.log.Warnf("dropping trickle: %v", err)
			}
			return
		}
		r.neg.onTrickle(msg.Target, candidate)

	case models.SignalTypeTrackPublished:
		if r.neg.onTrackPublished(msg.TrackCid, msg.TrackSid) {
			r.log.Infof("track %q published as %s", msg.TrackName, msg.TrackSid)
		}

	case models.SignalTypeRoomUpdate:
		r.log.Debugf("room update %q", msg.RoomName)
		r.neg.setJoin(msg.RoomName, "")

	case models.SignalTypeUpdate:
		r.log.Debugf("participant update, %d participants", msg.Count)
	case models.SignalTypeMute:
		r.log.Debugf("track %s muted=%t", msg.TrackSid, msg.Muted)
	case models.SignalTypeSpeakersChanged:
		r.log.Debugf("speakers changed, %d speakers", msg.Count)
	case models.SignalTypeLeave:
		r.log.Info("server requested leave")

	default:
		r.log.Debugf("ignoring signal %s", msg.Type)
	}
}

package room

import (
	"fmt"
	"time"

	"github.com/mossy-p/webrtc-device/internal/models"
	"github.com/mossy-p/webrtc-device/internal/peer"
)

// drive is the session driver loop. It is the only goroutine that touches
// the session's engine: pending remote updates are snapshotted under the
// negotiation lock and applied after it is released.
func (r *Room) drive(s *peer.Session, interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	role := s.Role()
	for {
		if update := r.neg.takePending(role); !update.Empty() {
			s.ApplyPendingRemote(&update)
		}

		if role == models.RolePublisher {
			if r.neg.takeCreateOffer() {
				r.log.Info("creating publisher offer")
				if err := s.CreateOffer(); err != nil {
					r.fail(fmt.Errorf("create offer: %w", err))
					return
				}
			}
			r.sendQueuedMedia(s)
		}

		s.Pump()
		if !r.drainEvents(s) {
			return
		}

		select {
		case <-ticker.C:
		case <-r.done:
			return
		}
	}
}

// drainEvents handles every queued engine notification. It returns false
// once the session has reached a fatal state.
func (r *Room) drainEvents(s *peer.Session) bool {
	role := s.Role()
	for {
		select {
		case ev := <-s.Events():
			switch ev.Kind {
			case peer.EventLocalDescription:
				r.neg.onLocalDescription(role, ev.SDP)
			case peer.EventStateChange:
				r.log.Infof("%s session %s", role, ev.State)
				if r.neg.onStateChange(role, ev.State) {
					r.fail(fmt.Errorf("%s session %s", role, ev.State))
					return false
				}
			}
		default:
			return true
		}
	}
}

func (r *Room) sendQueuedMedia(s *peer.Session) {
	for {
		select {
		case frame := <-r.media:
			send := s.SendAudio
			if frame.video {
				send = s.SendVideo
			}
			if err := send(frame.data); err != nil {
				r.log.Debugf("send media: %v", err)
			}
		default:
			return
		}
	}
}

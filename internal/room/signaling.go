package room

import (
	"fmt"
	"time"

	"github.com/mossy-p/webrtc-device/internal/models"
	"github.com/mossy-p/webrtc-device/internal/signal"
)

// signalingLoop sends whatever the negotiation owes the server, once per
// tick.
func (r *Room) signalingLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-r.done:
			return
		}

		for _, msg := range r.neg.collectOutbound(r.config.NewTrackCid, r.config.TrackName) {
			if err := r.send(msg); err != nil {
				r.fail(err)
				return
			}
			r.log.Infof("sent %s", msg.Type)
		}
	}
}

func (r *Room) send(msg models.SignalMessage) error {
	conn := r.connection()
	if conn == nil {
		return ErrNotRunning
	}
	data, err := signal.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

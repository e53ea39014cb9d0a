package signal

import (
	"fmt"

	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"

	"github.com/mossy-p/webrtc-device/internal/models"
)

// Encode renders an outbound message as a binary SignalRequest frame.
func Encode(msg models.SignalMessage) ([]byte, error) {
	req := &livekit.SignalRequest{}

	switch msg.Type {
	case models.SignalTypeOffer:
		req.Message = &livekit.SignalRequest_Offer{
			Offer: &livekit.SessionDescription{Type: "offer", Sdp: msg.SDP},
		}
	case models.SignalTypeAnswer:
		req.Message = &livekit.SignalRequest_Answer{
			Answer: &livekit.SessionDescription{Type: "answer", Sdp: msg.SDP},
		}
	case models.SignalTypeTrickle:
		req.Message = &livekit.SignalRequest_Trickle{
			Trickle: &livekit.TrickleRequest{
				CandidateInit: msg.CandidateInit,
				Target:        targetFromRole(msg.Target),
			},
		}
	case models.SignalTypeAddTrack:
		req.Message = &livekit.SignalRequest_AddTrack{
			AddTrack: &livekit.AddTrackRequest{
				Cid:    msg.TrackCid,
				Name:   msg.TrackName,
				Type:   livekit.TrackType_AUDIO,
				Source: livekit.TrackSource_MICROPHONE,
			},
		}
	case models.SignalTypeMute:
		req.Message = &livekit.SignalRequest_Mute{
			Mute: &livekit.MuteTrackRequest{Sid: msg.TrackSid, Muted: msg.Muted},
		}
	case models.SignalTypeSubscription:
		req.Message = &livekit.SignalRequest_Subscription{
			Subscription: &livekit.UpdateSubscription{TrackSids: msg.TrackSids, Subscribe: msg.Subscribe},
		}
	case models.SignalTypeTrackSetting:
		req.Message = &livekit.SignalRequest_TrackSetting{
			TrackSetting: &livekit.UpdateTrackSettings{TrackSids: msg.TrackSids, Disabled: msg.Disabled},
		}
	case models.SignalTypeLeave:
		req.Message = &livekit.SignalRequest_Leave{
			Leave: &livekit.LeaveRequest{Reason: livekit.DisconnectReason_CLIENT_INITIATED},
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, msg.Type)
	}

	return proto.Marshal(req)
}

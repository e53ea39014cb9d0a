// Package signal maps between the room server's protobuf signaling envelope
// and the device's SignalMessage model.
package signal

import (
	"fmt"

	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"

	"github.com/mossy-p/webrtc-device/internal/models"
)

// Decode parses an inbound binary frame. An empty envelope decodes to
// SignalTypeUnset.
func Decode(data []byte) (models.SignalMessage, error) {
	var res livekit.SignalResponse
	if err := proto.Unmarshal(data, &res); err != nil {
		return models.SignalMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch m := res.Message.(type) {
	case *livekit.SignalResponse_Join:
		return models.SignalMessage{
			Type:           models.SignalTypeJoin,
			ParticipantSid: m.Join.GetParticipant().GetSid(),
			Identity:       m.Join.GetParticipant().GetIdentity(),
			RoomName:       m.Join.GetRoom().GetName(),
			ServerVersion:  m.Join.GetServerVersion(),
		}, nil
	case *livekit.SignalResponse_Offer:
		return models.SignalMessage{Type: models.SignalTypeOffer, SDP: m.Offer.GetSdp()}, nil
	case *livekit.SignalResponse_Answer:
		return models.SignalMessage{Type: models.SignalTypeAnswer, SDP: m.Answer.GetSdp()}, nil
	case *livekit.SignalResponse_Trickle:
		return models.SignalMessage{
			Type:          models.SignalTypeTrickle,
			CandidateInit: m.Trickle.GetCandidateInit(),
			Target:        roleFromTarget(m.Trickle.GetTarget()),
		}, nil
	case *livekit.SignalResponse_TrackPublished:
		return models.SignalMessage{
			Type:      models.SignalTypeTrackPublished,
			TrackCid:  m.TrackPublished.GetCid(),
			TrackSid:  m.TrackPublished.GetTrack().GetSid(),
			TrackName: m.TrackPublished.GetTrack().GetName(),
		}, nil
	case *livekit.SignalResponse_Update:
		return models.SignalMessage{
			Type:  models.SignalTypeUpdate,
			Count: len(m.Update.GetParticipants()),
		}, nil
	case *livekit.SignalResponse_Mute:
		return models.SignalMessage{
			Type:     models.SignalTypeMute,
			TrackSid: m.Mute.GetSid(),
			Muted:    m.Mute.GetMuted(),
		}, nil
	case *livekit.SignalResponse_Leave:
		return models.SignalMessage{Type: models.SignalTypeLeave}, nil
	case *livekit.SignalResponse_SpeakersChanged:
		return models.SignalMessage{
			Type:  models.SignalTypeSpeakersChanged,
			Count: len(m.SpeakersChanged.GetSpeakers()),
		}, nil
	case *livekit.SignalResponse_RoomUpdate:
		return models.SignalMessage{
			Type:     models.SignalTypeRoomUpdate,
			RoomName: m.RoomUpdate.GetRoom().GetName(),
		}, nil
	default:
		return models.SignalMessage{Type: models.SignalTypeUnset}, nil
	}
}

func roleFromTarget(target livekit.SignalTarget) models.PeerRole {
	if target == livekit.SignalTarget_SUBSCRIBER {
		return models.RoleSubscriber
	}
	return models.RolePublisher
}

func targetFromRole(role models.PeerRole) livekit.SignalTarget {
	if role == models.RoleSubscriber {
		return livekit.SignalTarget_SUBSCRIBER
	}
	return livekit.SignalTarget_PUBLISHER
}

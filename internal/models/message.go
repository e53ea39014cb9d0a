package models

// SignalType represents the variant of a signaling frame exchanged with the room server
type SignalType string

// Server to client variants
const (
	SignalTypeUnset           SignalType = "unset"
	SignalTypeJoin            SignalType = "join"
	SignalTypeOffer           SignalType = "offer"
	SignalTypeAnswer          SignalType = "answer"
	SignalTypeTrickle         SignalType = "trickle"
	SignalTypeTrackPublished  SignalType = "track_published"
	SignalTypeUpdate          SignalType = "update"
	SignalTypeMute            SignalType = "mute"
	SignalTypeLeave           SignalType = "leave"
	SignalTypeSpeakersChanged SignalType = "speakers_changed"
	SignalTypeRoomUpdate      SignalType = "room_update"
)

// Client to server variants that have no inbound counterpart
const (
	SignalTypeAddTrack     SignalType = "add_track"
	SignalTypeSubscription SignalType = "subscription"
	SignalTypeTrackSetting SignalType = "track_setting"
)

// SignalMessage is a decoded signaling frame. Only the fields relevant to
// Type are populated.
type SignalMessage struct {
	Type SignalType

	// Offer, Answer
	SDP string

	// Trickle
	CandidateInit string
	Target        PeerRole

	// TrackPublished, Mute, AddTrack
	TrackCid  string
	TrackSid  string
	TrackName string
	Muted     bool

	// Join
	ParticipantSid string
	Identity       string
	RoomName       string
	ServerVersion  string

	// Update, SpeakersChanged
	Count int

	// Subscription, TrackSetting
	TrackSids []string
	Subscribe bool
	Disabled  bool
}

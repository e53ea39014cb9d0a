package models

// PublisherState drives what the signaling loop must do next for the
// publisher session.
type PublisherState int

const (
	PublisherIdle PublisherState = iota
	PublisherAwaitAddTrack
	PublisherAwaitLocalOffer
	PublisherAwaitSendOffer
	PublisherAwaitRemoteAnswer
)

func (s PublisherState) String() string {
	switch s {
	case PublisherIdle:
		return "idle"
	case PublisherAwaitAddTrack:
		return "await_add_track"
	case PublisherAwaitLocalOffer:
		return "await_local_offer"
	case PublisherAwaitSendOffer:
		return "await_send_offer"
	case PublisherAwaitRemoteAnswer:
		return "await_remote_answer"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is a legal publisher
// negotiation step.
func (s PublisherState) CanTransition(next PublisherState) bool {
	switch s {
	case PublisherIdle:
		return next == PublisherAwaitAddTrack || next == PublisherAwaitRemoteAnswer
	case PublisherAwaitAddTrack:
		return next == PublisherAwaitLocalOffer
	case PublisherAwaitLocalOffer:
		return next == PublisherAwaitSendOffer
	case PublisherAwaitSendOffer:
		return next == PublisherIdle
	case PublisherAwaitRemoteAnswer:
		return next == PublisherIdle
	default:
		return false
	}
}

// SubscriberState drives whether, and which, answer the signaling loop sends
// for the subscriber session.
type SubscriberState int

const (
	SubscriberIdle SubscriberState = iota
	SubscriberNeedAnswerNoMedia
	SubscriberNeedAnswerWithMedia
)

func (s SubscriberState) String() string {
	switch s {
	case SubscriberIdle:
		return "idle"
	case SubscriberNeedAnswerNoMedia:
		return "need_answer_no_media"
	case SubscriberNeedAnswerWithMedia:
		return "need_answer_with_media"
	default:
		return "unknown"
	}
}

// NeedsAnswer reports whether an answer is owed to the room server.
func (s SubscriberState) NeedsAnswer() bool {
	return s == SubscriberNeedAnswerNoMedia || s == SubscriberNeedAnswerWithMedia
}

// RoomSnapshot is a point-in-time view of the room negotiation, used by the
// status API and reporters.
type RoomSnapshot struct {
	RoomName            string `json:"roomName,omitempty"`
	Identity            string `json:"identity,omitempty"`
	PublisherState      string `json:"publisherState"`
	SubscriberState     string `json:"subscriberState"`
	PublisherConn       string `json:"publisherConnection"`
	SubscriberConn      string `json:"subscriberConnection"`
	SubscriberCompleted bool   `json:"subscriberCompleted"`
	CredentialsReady    bool   `json:"credentialsReady"`
	PublishedTrackSid   string `json:"publishedTrackSid,omitempty"`
	Muted               bool   `json:"muted"`
}

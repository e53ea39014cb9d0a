package models

// MuteRequest represents the body of a mute request
type MuteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

// StatusResponse represents the local status API response
type StatusResponse struct {
	Device string        `json:"device"`
	Joined bool          `json:"joined"`
	Room   *RoomSnapshot `json:"room,omitempty"`
}

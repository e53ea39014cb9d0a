package signal

import (
	"fmt"
	"net/url"
	"strings"
)

// JoinURL builds the signaling endpoint for a room.
func JoinURL(roomURL, token string, protocolVersion int) string {
	return fmt.Sprintf("%s/rtc?protocol=%d&access_token=%s&auto_subscribe=true",
		strings.TrimSuffix(roomURL, "/"), protocolVersion, url.QueryEscape(token))
}

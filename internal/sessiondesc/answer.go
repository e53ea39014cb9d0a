// Package sessiondesc builds the subscriber answer from captured ICE
// credentials and inspects descriptions produced by the room server and the
// media engine.
package sessiondesc

import (
	"fmt"
	"strings"

	"github.com/mossy-p/webrtc-device/internal/models"
)

const answerHeader = "v=0\r\n" +
	"o=- 8611954123959290783 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=msid-semantic:  iot\r\n"

const dataChannelSection = "m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=setup:passive\r\n" +
	"a=mid:datachannel\r\n" +
	"%s" +
	"a=sctp-port:5000\r\n"

const audioSection = "m=audio 9 UDP/TLS/RTP/SAVP 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtcp:9 IN IP4 0.0.0.0\r\n" +
	"a=setup:passive\r\n" +
	"a=mid:audio\r\n" +
	"%s" +
	"a=recvonly\r\n"

// SynthesizeAnswer renders the subscriber answer. The data channel section is
// always present; a receive-only opus section is added when includeMedia is
// set. Empty credentials are a programming error and are rejected.
func SynthesizeAnswer(creds models.IceCredentials, includeMedia bool) (string, error) {
	if err := creds.Validate(); err != nil {
		return "", err
	}

	transport := fmt.Sprintf("a=ice-ufrag:%s\r\na=ice-pwd:%s\r\na=fingerprint:%s\r\n",
		creds.Ufrag, creds.Pwd, creds.Fingerprint)

	var b strings.Builder
	b.WriteString(answerHeader)
	if includeMedia {
		b.WriteString("a=group:BUNDLE datachannel audio\r\n")
	} else {
		b.WriteString("a=group:BUNDLE datachannel\r\n")
	}
	fmt.Fprintf(&b, dataChannelSection, transport)
	if includeMedia {
		fmt.Fprintf(&b, audioSection, transport)
	}
	return b.String(), nil
}

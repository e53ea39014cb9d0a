package sessiondesc

import (
	"errors"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/mossy-p/webrtc-device/internal/models"
)

// ErrNoCredentials is returned when a description lacks ufrag, pwd or fingerprint.
var ErrNoCredentials = errors.New("sessiondesc: description has no ICE credentials")

const (
	attrUfrag       = "ice-ufrag"
	attrPwd         = "ice-pwd"
	attrFingerprint = "fingerprint"
)

// HasAudio reports whether the description carries an audio media section.
// Descriptions that fail strict parsing are inspected line by line.
func HasAudio(desc string) bool {
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc); err != nil {
		for _, line := range splitLines(desc) {
			if strings.HasPrefix(line, "m=audio ") {
				return true
			}
		}
		return false
	}

	for _, md := range parsed.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return true
		}
	}
	return false
}

// ExtractCredentials pulls the local ICE ufrag, pwd and DTLS fingerprint out
// of a locally generated description. Session-level attributes win over the
// first media section that carries them.
func ExtractCredentials(desc string) (models.IceCredentials, error) {
	var creds models.IceCredentials

	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc); err != nil {
		creds = scanCredentials(desc)
	} else {
		creds.Ufrag = lookup(&parsed, attrUfrag)
		creds.Pwd = lookup(&parsed, attrPwd)
		creds.Fingerprint = lookup(&parsed, attrFingerprint)
	}

	if creds.Validate() != nil {
		return models.IceCredentials{}, ErrNoCredentials
	}
	return creds, nil
}

func lookup(parsed *sdp.SessionDescription, key string) string {
	if v, ok := parsed.Attribute(key); ok && v != "" {
		return v
	}
	for _, md := range parsed.MediaDescriptions {
		if v, ok := md.Attribute(key); ok && v != "" {
			return v
		}
	}
	return ""
}

func scanCredentials(desc string) models.IceCredentials {
	var creds models.IceCredentials
	for _, line := range splitLines(desc) {
		name, value, ok := strings.Cut(strings.TrimPrefix(line, "a="), ":")
		if !ok || !strings.HasPrefix(line, "a=") {
			continue
		}
		switch name {
		case attrUfrag:
			if creds.Ufrag == "" {
				creds.Ufrag = value
			}
		case attrPwd:
			if creds.Pwd == "" {
				creds.Pwd = value
			}
		case attrFingerprint:
			if creds.Fingerprint == "" {
				creds.Fingerprint = value
			}
		}
	}
	return creds
}

func splitLines(desc string) []string {
	lines := strings.Split(desc, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
